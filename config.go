package main

import (
	"fmt"
	"os"
	"strconv"
)

// Build-time variables - inject via ldflags
// Example: go build -ldflags "-X main.appSecretOverride=YOUR_SECRET"
var (
	appSecretOverride string // -X main.appSecretOverride=...
)

// Device identity scope: one identity for the whole run, or a fresh one per
// account token. The shipped app generates its fingerprint at process start,
// so per-run is the default.
const (
	DeviceModePerRun   = "run"
	DeviceModePerToken = "token"
)

const (
	defaultMaxRetries     = 3
	defaultTimeoutSeconds = 30
	defaultTokenFile      = "tokens.txt"

	// defaultAppSecret matches the key shipped inside the app build the
	// server currently accepts fingerprints from.
	defaultAppSecret = "7e0c29cbeda4f91d"
)

// Config is the explicit runtime configuration for one run. Everything is
// resolved once at startup and read-only afterwards.
type Config struct {
	MaxRetries     int
	TimeoutSeconds int
	DeviceMode     string
	ProxyURL       string
	AppSecret      string
	AttestKeyPEM   string
	TokenFile      string
}

// LoadConfig resolves configuration from the environment. The app secret
// additionally honors the build-time override.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		MaxRetries:     defaultMaxRetries,
		TimeoutSeconds: defaultTimeoutSeconds,
		DeviceMode:     DeviceModePerRun,
		AppSecret:      defaultAppSecret,
		AttestKeyPEM:   defaultAttestKeyPEM,
		TokenFile:      defaultTokenFile,
	}

	if v := os.Getenv("SKD_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("SKD_MAX_RETRIES must be a positive integer, got %q", v)
		}
		cfg.MaxRetries = n
	}

	if v := os.Getenv("SKD_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("SKD_TIMEOUT_SECONDS must be a positive integer, got %q", v)
		}
		cfg.TimeoutSeconds = n
	}

	if v := os.Getenv("SKD_DEVICE_MODE"); v != "" {
		switch v {
		case DeviceModePerRun, DeviceModePerToken:
			cfg.DeviceMode = v
		default:
			return nil, fmt.Errorf("SKD_DEVICE_MODE must be %q or %q, got %q", DeviceModePerRun, DeviceModePerToken, v)
		}
	}

	cfg.ProxyURL = os.Getenv("SKD_PROXY")

	if v := GetAppSecret(); v != "" {
		cfg.AppSecret = v
	}

	if v := os.Getenv("SKD_TOKEN_FILE"); v != "" {
		cfg.TokenFile = v
	}

	return cfg, nil
}

// GetAppSecret returns the device app secret (build-time or env fallback).
func GetAppSecret() string {
	if appSecretOverride != "" {
		return appSecretOverride
	}
	return os.Getenv("SKD_APP_SECRET")
}
