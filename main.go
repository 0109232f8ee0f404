package main

import (
	"io"
	"log"
	"os"

	"github.com/joho/godotenv"
)

var (
	loginToken string
	runLog     *log.Logger
)

type moduleLogger struct {
	logger *log.Logger
}

func (m *moduleLogger) Log(format string, args ...any) {
	m.logger.Printf("      "+format, args...)
}

func main() {
	parseArgs()

	logFile := setupLogging()
	defer logFile.Close()

	_ = godotenv.Load()

	cfg, err := LoadConfig()
	if err != nil {
		runLog.Fatalf("Configuration error: %v", err)
	}

	factory, err := NewDeviceFactory(cfg.AppSecret, cfg.AttestKeyPEM)
	if err != nil {
		runLog.Fatalf("Signing configuration error: %v", err)
	}

	runner := NewRunner(cfg, factory, &moduleLogger{logger: runLog})

	var exitCode int
	if loginToken != "" {
		exitCode = runLogin(runner, loginToken)
	} else {
		exitCode = runBatch(runner, cfg)
	}
	os.Exit(exitCode)
}

func parseArgs() {
	if len(os.Args) < 2 {
		return // batch mode over the configured token list
	}

	switch os.Args[1] {
	case "login":
		if len(os.Args) < 3 {
			log.Fatal("Usage: skd login <token>")
		}
		loginToken = os.Args[2]
	default:
		log.Fatal("Usage: skd [login <token>]\nExamples:\n  skd              sign in every configured account\n  skd login TOKEN  sign in one token without touching the configured list")
	}
}

func setupLogging() *os.File {
	logFile, err := os.OpenFile("skd.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	runLog = log.New(io.MultiWriter(os.Stdout, logFile), "", log.LstdFlags)
	return logFile
}

func runBatch(runner *Runner, cfg *Config) int {
	tokens, err := LoadTokens(cfg)
	if err != nil {
		runLog.Fatalf("Failed to load tokens: %v", err)
	}

	runLog.Printf("Loaded %d account token(s)", len(tokens))
	runLog.Printf("Starting sign-in run (retries: %d, device mode: %s)...", cfg.MaxRetries, cfg.DeviceMode)

	reports, err := runner.RunAll(tokens)
	if err != nil {
		runLog.Printf("FATAL ERROR: %v", err)
		return 1
	}
	return summarize(reports)
}

func runLogin(runner *Runner, token string) int {
	runLog.Printf("Signing in account %s...", MaskToken(token))

	report, err := runner.RunOne(token)
	if err != nil {
		runLog.Printf("FATAL ERROR: %v", err)
		return 1
	}
	return summarize([]TokenReport{report})
}

func summarize(reports []TokenReport) int {
	succeeded, failed := 0, 0

	runLog.Printf("=== Results ===")
	for _, report := range reports {
		label := report.Token
		if report.Failed {
			label += " (failed)"
		}
		runLog.Printf("%s:", label)

		if len(report.Outcomes) == 0 {
			runLog.Printf("  no bound characters")
		}
		for _, outcome := range report.Outcomes {
			mark := "+"
			if outcome.Succeeded {
				succeeded++
			} else {
				failed++
				mark = "-"
			}
			if outcome.Binding.UID == "" {
				runLog.Printf("  %s %s", mark, outcome.Message)
				continue
			}
			runLog.Printf("  %s %s %s (%s): %s", mark, outcome.Binding.Game.Label(), outcome.Binding.Nickname, outcome.Binding.UID, outcome.Message)
		}
	}
	runLog.Printf("=== Complete: %d signed in, %d failed across %d account(s) ===", succeeded, failed, len(reports))

	if failed > 0 {
		return 1
	}
	return 0
}
