package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("INVENTORY_DEFAULT_TIMEOUT_SECONDS", "")
	t.Setenv("OVERDUE_HOUR_COURTESY", "")
	t.Setenv("GENERATE_OVERDUE_CODES", "")
	t.Setenv("SPECIAL_EMAIL_DOMAIN", "")
	t.Setenv("BOTS_FILE", "")

	cfg := LoadConfig()

	assert.Equal(t, 30*time.Second, cfg.InventoryTimeout)
	assert.Equal(t, float64(24), cfg.OverdueHourCourtesy)
	assert.True(t, cfg.GenerateOverdueCodes)
	assert.Equal(t, "extremegaming-arg.com.ar", cfg.SpecialEmailDomain)
	assert.Equal(t, "bots.json", cfg.BotsFile)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("INVENTORY_DEFAULT_TIMEOUT_SECONDS", "10")
	t.Setenv("OVERDUE_HOUR_COURTESY", "48.5")
	t.Setenv("GENERATE_OVERDUE_CODES", "false")
	t.Setenv("SPECIAL_EMAIL_DOMAIN", "test.local")
	t.Setenv("BOTS_FILE", "/etc/delivery/bots.json")

	cfg := LoadConfig()

	assert.Equal(t, 10*time.Second, cfg.InventoryTimeout)
	assert.Equal(t, 48.5, cfg.OverdueHourCourtesy)
	assert.False(t, cfg.GenerateOverdueCodes)
	assert.Equal(t, "test.local", cfg.SpecialEmailDomain)
	assert.Equal(t, "/etc/delivery/bots.json", cfg.BotsFile)
}

func TestLoadConfigIgnoresInvalidValues(t *testing.T) {
	t.Setenv("INVENTORY_DEFAULT_TIMEOUT_SECONDS", "not-a-number")
	t.Setenv("OVERDUE_HOUR_COURTESY", "-3")

	cfg := LoadConfig()

	assert.Equal(t, 30*time.Second, cfg.InventoryTimeout)
	assert.Equal(t, float64(24), cfg.OverdueHourCourtesy)
}

func TestLoadBots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bots.json")
	roster := `[
		{"owner_id": 7, "use_2fa": true, "only_use_special_emails": false, "data_path": "bot1.json"},
		{"owner_id": 8, "use_2fa": false, "only_use_special_emails": true, "data_path": "bot2.json"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(roster), 0o600))

	bots, err := LoadBots(path)
	require.NoError(t, err)

	require.Len(t, bots, 2)
	assert.Equal(t, int64(7), bots[0].OwnerID)
	assert.True(t, bots[0].Use2FA)
	assert.Equal(t, "bot1.json", bots[0].DataPath)
	assert.True(t, bots[1].OnlyUseSpecialEmails)
}

func TestLoadBotsMissingFile(t *testing.T) {
	_, err := LoadBots(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot1.json")
	data := `{"account_name": "testbot", "password": "hunter2", "shared_secret": "c2VjcmV0"}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	creds, err := LoadCredentials(path)
	require.NoError(t, err)

	assert.Equal(t, "testbot", creds.AccountName)
	assert.Equal(t, "hunter2", creds.Password)
	assert.Equal(t, "c2VjcmV0", creds.SharedSecret)
}

func TestLoadCredentialsRejectsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot1.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"account_name": "testbot"}`), 0o600))

	_, err := LoadCredentials(path)
	assert.Error(t, err)
}
