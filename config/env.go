package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from SMC_* environment variables.
func (c *Config) ApplyEnv() error {
	var problems []string
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: %q is not a number", key, v))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: %q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	float("SMC_RISK_PERCENT", &c.Risk.RiskPercent)
	float("SMC_DAILY_LOSS_PERCENT", &c.Risk.DailyLossPercent)
	integer("SMC_MAX_CONTRACTS", &c.Risk.MaxContracts)
	float("SMC_ACCOUNT_EQUITY", &c.Account.Equity)
	str("SMC_BROKER_URL", &c.Broker.URL)
	if v, ok := os.LookupEnv("SMC_AMQP_URI"); ok {
		c.Feed.URI = v
		c.Journal.AMQPURI = v
	}
	str("SMC_REDIS_ADDR", &c.Journal.RedisAddr)
	str("SMC_LOG_LEVEL", &c.Log.Level)
	str("SMC_JOURNAL_DB", &c.Journal.DBPath)

	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}
