// Package exitmgmt implements the exit-management state machine:
// structural stop resolution, trailing-only ratchet, session-phase
// guardrails, idempotent broker-order reconciliation, and a pure exit
// simulator sharing the same stop-resolution helpers as the live path.
// Grounded on execution_v2/exits.py, exit_events.py, exit_simulator.py, and
// sizing.py.
package exitmgmt

import (
	"os"
	"strconv"
)

// Config mirrors execution_v2.exits.ExitConfig.from_env.
type Config struct {
	StopBufferDollars    float64
	MaxRiskPerShare      float64
	MinIntradayBars      int
	IntradayMinutes      int
	IntradayLookbackDays int
	DailyLookbackDays    int
	TelemetrySource      string
	StopSelectionV2      bool

	// SessionGuardrails enables the OPEN_NOISE/EARLY_TREND/NORMAL_SESSION/
	// CLOSE_PROTECT phase gating plus the too-close/too-early skips. Off in
	// DefaultConfig so existing wall-clock-free tests stay deterministic;
	// on by default in ConfigFromEnv for the live daily cycle.
	SessionGuardrails bool
	// MinStopDistancePct is the minimum (currentPrice-stop)/currentPrice
	// fraction a candidate stop must clear; 0 disables the check.
	MinStopDistancePct float64
	// MinTimeSinceEntryMinutes is the minimum time since entry before a
	// structural stop is trusted; 0 disables the time-based half of the
	// too-early check.
	MinTimeSinceEntryMinutes int
}

// DefaultConfig matches the exit-management configuration defaults used
// when no environment override is present.
func DefaultConfig() Config {
	return Config{
		StopBufferDollars:    0.10,
		MaxRiskPerShare:      3.00,
		MinIntradayBars:      6,
		IntradayMinutes:      5,
		IntradayLookbackDays: 3,
		DailyLookbackDays:    320,
		TelemetrySource:      "execution_v2",
		StopSelectionV2:      false,

		SessionGuardrails:        false,
		MinStopDistancePct:       0,
		MinTimeSinceEntryMinutes: 0,
	}
}

// ConfigFromEnv reads the same env vars as ExitConfig.from_env, using the
// teacher's getEnv/getEnvAsInt/getEnvAsFloat helper style.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.StopBufferDollars = getEnvAsFloat("STOP_BUFFER_DOLLARS", cfg.StopBufferDollars)
	cfg.MaxRiskPerShare = getEnvAsFloat("MAX_RISK_PER_SHARE_DOLLARS", cfg.MaxRiskPerShare)
	cfg.MinIntradayBars = getEnvAsInt("EXIT_MIN_INTRADAY_BARS", cfg.MinIntradayBars)
	cfg.IntradayMinutes = getEnvAsInt("EXIT_INTRADAY_MINUTES", cfg.IntradayMinutes)
	cfg.IntradayLookbackDays = getEnvAsInt("EXIT_INTRADAY_LOOKBACK_DAYS", cfg.IntradayLookbackDays)
	cfg.DailyLookbackDays = getEnvAsInt("EXIT_DAILY_LOOKBACK_DAYS", cfg.DailyLookbackDays)
	cfg.TelemetrySource = getEnv("EXIT_TELEMETRY_SOURCE", cfg.TelemetrySource)
	cfg.StopSelectionV2 = getEnv("EXIT_STOP_SELECTION_V2", "0") == "1"
	cfg.SessionGuardrails = getEnv("EXIT_SESSION_GUARDRAILS", "1") == "1"
	cfg.MinStopDistancePct = getEnvAsFloat("EXIT_MIN_STOP_DISTANCE_PCT", 0.003)
	cfg.MinTimeSinceEntryMinutes = getEnvAsInt("EXIT_MIN_TIME_SINCE_ENTRY_MINUTES", 10)
	return cfg
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvAsFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
