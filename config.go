package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the process-wide configuration, loaded from the environment.
// Every value has a default except the database password.
type Config struct {
	// Timeout applied to every storefront HTTP call
	InventoryTimeout time.Duration
	// Hours a delivery may stay pending before it counts as overdue
	OverdueHourCourtesy float64
	// Whether overdue codes are generated and embedded in gift messages
	GenerateOverdueCodes bool
	// Domain of the deterministic fallback delivery address
	SpecialEmailDomain string
	// Path of the bot roster file
	BotsFile string
}

// LoadConfig reads the configuration from environment variables
func LoadConfig() *Config {
	cfg := &Config{
		InventoryTimeout:     30 * time.Second,
		OverdueHourCourtesy:  24,
		GenerateOverdueCodes: true,
		SpecialEmailDomain:   "extremegaming-arg.com.ar",
		BotsFile:             "bots.json",
	}

	if v := os.Getenv("INVENTORY_DEFAULT_TIMEOUT_SECONDS"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			cfg.InventoryTimeout = time.Duration(seconds) * time.Second
		}
	}

	if v := os.Getenv("OVERDUE_HOUR_COURTESY"); v != "" {
		if hours, err := strconv.ParseFloat(v, 64); err == nil && hours > 0 {
			cfg.OverdueHourCourtesy = hours
		}
	}

	if v := os.Getenv("GENERATE_OVERDUE_CODES"); v != "" {
		cfg.GenerateOverdueCodes = v == "true"
	}

	if v := os.Getenv("SPECIAL_EMAIL_DOMAIN"); v != "" {
		cfg.SpecialEmailDomain = v
	}

	if v := os.Getenv("BOTS_FILE"); v != "" {
		cfg.BotsFile = v
	}

	return cfg
}

// BotConfig is one roster entry from the bots file
type BotConfig struct {
	OwnerID              int64  `json:"owner_id"`
	Use2FA               bool   `json:"use_2fa"`
	OnlyUseSpecialEmails bool   `json:"only_use_special_emails"`
	DataPath             string `json:"data_path"`
}

// Credentials is a per-bot credential file. Immutable once constructed.
type Credentials struct {
	AccountName  string `json:"account_name"`
	Password     string `json:"password"`
	SharedSecret string `json:"shared_secret"`
}

// LoadBots reads the bot roster file
func LoadBots(path string) ([]BotConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bots file: %w", err)
	}

	var bots []BotConfig
	if err := json.Unmarshal(raw, &bots); err != nil {
		return nil, fmt.Errorf("parsing bots file %s: %w", path, err)
	}

	return bots, nil
}

// LoadCredentials reads a per-bot credential file
func LoadCredentials(path string) (*Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials file %s: %w", path, err)
	}

	if creds.AccountName == "" || creds.Password == "" {
		return nil, fmt.Errorf("credentials file %s is missing account_name or password", path)
	}

	return &creds, nil
}
