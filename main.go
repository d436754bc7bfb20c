package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Error loading .env file: %v", err)
	}

	logger := NewLogger("delivery-bot")
	defer logger.Close()

	logger.Info("Starting Steam gift delivery bot")

	cfg := LoadConfig()

	db, err := OpenDB()
	if err != nil {
		logger.Error("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("Database connection established successfully")

	if err := EnsureSchema(db); err != nil {
		logger.Error("Failed to ensure schema: %v", err)
		os.Exit(1)
	}

	bots, err := LoadBots(cfg.BotsFile)
	if err != nil {
		logger.Error("Failed to load bot roster: %v", err)
		os.Exit(1)
	}

	logger.Info("Loaded %d bots", len(bots))

	stores := Stores{
		Locks:        NewLockStore(db),
		Tracking:     NewAssetTrackingStore(db),
		UserRequests: NewUserRequestStore(db),
		PaidRequests: NewPaidRequestStore(db),
		Delivery:     NewDeliveryStore(db),
	}

	failed := 0
	for i, botConfig := range bots {
		if err := runBot(cfg, botConfig, i+1, stores); err != nil {
			failed++
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// runBot executes one reconciliation run for one configured bot. The lock is
// released through a defer so every exit path, including a failed run,
// leaves the account unlocked.
func runBot(cfg *Config, botConfig BotConfig, proxyIndex int, stores Stores) error {
	creds, err := LoadCredentials(botConfig.DataPath)
	if err != nil {
		logger := NewLogger("delivery-bot")
		defer logger.Close()
		logger.Error("Failed to load credentials from %s: %v", botConfig.DataPath, err)
		return err
	}

	logger := NewLogger(creds.AccountName)
	defer logger.Close()

	account, err := NewWebAccount(cfg, creds, botConfig.Use2FA, proxyIndex, stores, HTMLGiftPageParser{}, logger)
	if err != nil {
		logger.Error("Failed to build web account for %s: %v", creds.AccountName, err)
		return err
	}

	locked, err := account.LockPresent()
	if err != nil {
		logger.Error("Failed to check lock for %s: %v", creds.AccountName, err)
		return err
	}

	if locked {
		logger.Info("Cannot init session for %s. Lock is present", creds.AccountName)
		return nil
	}

	if err := account.AcquireLock(); err != nil {
		logger.Error("Failed to acquire lock for %s: %v", creds.AccountName, err)
		return err
	}

	defer func() {
		if err := account.ReleaseLock(); err != nil {
			logger.Error("Failed to release lock for %s: %v", creds.AccountName, err)
		}
	}()

	bot := NewDeliveryBot(botConfig.OwnerID, account, stores, cfg, logger)

	if err := bot.Run(botConfig.OnlyUseSpecialEmails); err != nil {
		logger.Error("Run failed for %s: %v", creds.AccountName, err)
		return err
	}

	return nil
}
