// Package config holds runtime configuration for the chat orchestration
// core. Values load from the environment with sensible defaults; an optional
// YAML file can overlay any field.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration tree.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Budget   BudgetConfig   `yaml:"budget"`
	Search   SearchConfig   `yaml:"search"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Provider ProviderConfig `yaml:"provider"`
}

// LogConfig mirrors observability.LogConfig for file/env loading.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BudgetConfig bounds utility-tier LLM calls per turn.
type BudgetConfig struct {
	// UtilityCallsLogTurn caps utility calls for log_* turns.
	UtilityCallsLogTurn int `yaml:"utility_calls_log_turn"`

	// UtilityCallsNonLogTurn caps utility calls for all other turns.
	UtilityCallsNonLogTurn int `yaml:"utility_calls_nonlog_turn"`
}

// SearchConfig controls the web_search tool.
type SearchConfig struct {
	Enabled            bool          `yaml:"enabled"`
	AllowedSpecialists []string      `yaml:"allowed_specialists"`
	MaxResults         int           `yaml:"max_results"`
	Timeout            time.Duration `yaml:"timeout"`
	CircuitFailures    int           `yaml:"circuit_fail_threshold"`
	CircuitOpenFor     time.Duration `yaml:"circuit_open_seconds"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
}

// AnalysisConfig controls the longitudinal analysis engine.
type AnalysisConfig struct {
	Enabled            bool          `yaml:"enabled"`
	AutorunOnChat      bool          `yaml:"autorun_on_chat"`
	AutorunDebounce    time.Duration `yaml:"autorun_debounce"`
	DailyHourLocal     int           `yaml:"daily_hour_local"`
	WeeklyWeekdayLocal int           `yaml:"weekly_weekday_local"`
	MonthlyDayLocal    int           `yaml:"monthly_day_local"`
	MaxCatchupDaily    int           `yaml:"max_catchup_daily"`
	MaxCatchupWeekly   int           `yaml:"max_catchup_weekly"`
	MaxCatchupMonthly  int           `yaml:"max_catchup_monthly"`
	AutoApplyProposals bool          `yaml:"auto_apply_proposals"`
}

// ProviderConfig bounds provider calls.
type ProviderConfig struct {
	// RequestTimeout is the deadline for a single provider call, streaming
	// included.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Budget: BudgetConfig{
			UtilityCallsLogTurn:    1,
			UtilityCallsNonLogTurn: 3,
		},
		Search: SearchConfig{
			Enabled:            true,
			AllowedSpecialists: []string{"nutrition", "fitness", "sleep", "supplement", "medical"},
			MaxResults:         5,
			Timeout:            12 * time.Second,
			CircuitFailures:    3,
			CircuitOpenFor:     120 * time.Second,
			CacheTTL:           6 * time.Hour,
		},
		Analysis: AnalysisConfig{
			Enabled:            true,
			AutorunOnChat:      true,
			AutorunDebounce:    5 * time.Second,
			DailyHourLocal:     3,
			WeeklyWeekdayLocal: 1, // Monday
			MonthlyDayLocal:    1,
			MaxCatchupDaily:    3,
			MaxCatchupWeekly:   2,
			MaxCatchupMonthly:  1,
			AutoApplyProposals: false,
		},
		Provider: ProviderConfig{
			RequestTimeout: 120 * time.Second,
			MaxRetries:     3,
			RetryDelay:     time.Second,
		},
	}
}

// FromEnv returns the default config overridden by environment variables.
func FromEnv() *Config {
	cfg := Default()

	envStr("LOG_LEVEL", &cfg.Log.Level)
	envStr("LOG_FORMAT", &cfg.Log.Format)

	envInt("UTILITY_CALL_BUDGET_LOG_TURN", &cfg.Budget.UtilityCallsLogTurn)
	envInt("UTILITY_CALL_BUDGET_NONLOG_TURN", &cfg.Budget.UtilityCallsNonLogTurn)

	envBool("ENABLE_WEB_SEARCH", &cfg.Search.Enabled)
	envList("WEB_SEARCH_ALLOWED_SPECIALISTS", &cfg.Search.AllowedSpecialists)
	envInt("WEB_SEARCH_MAX_RESULTS", &cfg.Search.MaxResults)
	envSeconds("WEB_SEARCH_TIMEOUT_SECONDS", &cfg.Search.Timeout)
	envInt("WEB_SEARCH_CIRCUIT_FAIL_THRESHOLD", &cfg.Search.CircuitFailures)
	envSeconds("WEB_SEARCH_CIRCUIT_OPEN_SECONDS", &cfg.Search.CircuitOpenFor)
	envHours("WEB_SEARCH_CACHE_TTL_HOURS", &cfg.Search.CacheTTL)

	envBool("ENABLE_LONGITUDINAL_ANALYSIS", &cfg.Analysis.Enabled)
	envBool("ANALYSIS_AUTORUN_ON_CHAT", &cfg.Analysis.AutorunOnChat)
	envSeconds("ANALYSIS_AUTORUN_DEBOUNCE_SECONDS", &cfg.Analysis.AutorunDebounce)
	envInt("ANALYSIS_DAILY_HOUR_LOCAL", &cfg.Analysis.DailyHourLocal)
	envInt("ANALYSIS_WEEKLY_WEEKDAY_LOCAL", &cfg.Analysis.WeeklyWeekdayLocal)
	envInt("ANALYSIS_MONTHLY_DAY_LOCAL", &cfg.Analysis.MonthlyDayLocal)
	envInt("ANALYSIS_MAX_CATCHUP_WINDOWS_DAILY", &cfg.Analysis.MaxCatchupDaily)
	envInt("ANALYSIS_MAX_CATCHUP_WINDOWS_WEEKLY", &cfg.Analysis.MaxCatchupWeekly)
	envInt("ANALYSIS_MAX_CATCHUP_WINDOWS_MONTHLY", &cfg.Analysis.MaxCatchupMonthly)
	envBool("ANALYSIS_AUTO_APPLY_PROPOSALS", &cfg.Analysis.AutoApplyProposals)

	return cfg
}

// LoadFile overlays a YAML file onto cfg in place.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if c.Budget.UtilityCallsLogTurn < 0 || c.Budget.UtilityCallsNonLogTurn < 0 {
		return fmt.Errorf("config: utility call budgets must be >= 0")
	}
	if c.Analysis.DailyHourLocal < 0 || c.Analysis.DailyHourLocal > 23 {
		return fmt.Errorf("config: daily analysis hour out of range: %d", c.Analysis.DailyHourLocal)
	}
	if c.Analysis.WeeklyWeekdayLocal < 0 || c.Analysis.WeeklyWeekdayLocal > 6 {
		return fmt.Errorf("config: weekly analysis weekday out of range: %d", c.Analysis.WeeklyWeekdayLocal)
	}
	if c.Analysis.MonthlyDayLocal < 1 || c.Analysis.MonthlyDayLocal > 28 {
		return fmt.Errorf("config: monthly analysis day out of range: %d", c.Analysis.MonthlyDayLocal)
	}
	if c.Provider.RequestTimeout <= 0 {
		return fmt.Errorf("config: provider request timeout must be positive")
	}
	return nil
}

func envStr(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envList(key string, dst *[]string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}

func envSeconds(key string, dst *time.Duration) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func envHours(key string, dst *time.Duration) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = time.Duration(n) * time.Hour
		}
	}
}
