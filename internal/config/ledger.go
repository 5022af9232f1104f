package config

import (
	"os"
	"strconv"
	"time"
)

// LedgerConfig carries the cash-ledger tunables. StrictOtherBucket
// switches the write-time fallback for unrecognized payment methods
// from the historical Cash bucket to a true Other bucket; it defaults
// to off so existing drawers keep reconciling against physical cash.
type LedgerConfig struct {
	StrictOtherBucket bool
	PanelLimit        int
	RecentDefault     int
	RecentMax         int
	ReportCacheTTL    time.Duration
	EventQueue        string
}

func LoadLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		StrictOtherBucket: getEnvAsBool("LEDGER_STRICT_OTHER_BUCKET", false),
		PanelLimit:        getEnvAsInt("LEDGER_PANEL_LIMIT", 20),
		RecentDefault:     getEnvAsInt("LEDGER_RECENT_DEFAULT", 25),
		RecentMax:         getEnvAsInt("LEDGER_RECENT_MAX", 100),
		ReportCacheTTL:    getEnvAsDuration("LEDGER_REPORT_CACHE_TTL", 30*time.Second),
		EventQueue:        getEnv("LEDGER_EVENT_QUEUE", "ledger_events"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
