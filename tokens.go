package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// LoadTokens gathers account tokens for the run. SKLAND_TOKENS takes
// precedence when set (tokens separated by commas or whitespace); otherwise
// the configured token file is read, one token per line. Order is preserved:
// the report is keyed by input position.
func LoadTokens(cfg *Config) ([]string, error) {
	if raw := os.Getenv("SKLAND_TOKENS"); raw != "" {
		tokens := parseTokenList(raw)
		if len(tokens) == 0 {
			return nil, fmt.Errorf("SKLAND_TOKENS is set but contains no tokens")
		}
		return tokens, nil
	}

	tokens, err := loadTokenFile(cfg.TokenFile)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no tokens found in %s", cfg.TokenFile)
	}
	return tokens, nil
}

func parseTokenList(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

// loadTokenFile reads tokens from a file, one per line. Blank lines and
// lines starting with # are skipped.
func loadTokenFile(filename string) ([]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open token file: %w", err)
	}
	defer file.Close()

	var tokens []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading token file: %w", err)
	}

	return tokens, nil
}

// MaskToken renders a token safe for logs. Account tokens are durable
// secrets and never appear in full anywhere in output.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
