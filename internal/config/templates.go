package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Bracket Trader Configuration

[trading]
# Simulate fills without contacting the broker
dry_run = true
account_id = "paper"
# Broker: "paper", "alpaca" or "kite"
broker = "paper"
# Time between trading cycles while the market is open
cycle_interval = "30s"
# Sleep while the market is closed
idle_interval = "5m"
timezone = "America/New_York"
sessions = ["09:30-16:00"]
# Market holidays, "YYYY-MM-DD"
holidays = []
# Cancel unfilled entries shortly before the session ends
close_positions_before_close = true
# Minutes before session end (1-30)
close_buffer_minutes = 10
# Suspend other plans while one position is open
single_position = false
initial_paper_balance = 100000.0

[risk]
# Fraction of remaining capital risked per trade (0-1]
risk_fraction = 0.01
# Take-profit distance as a multiple of the stop distance (>= 1)
profit_to_loss_ratio = 2.0
# Minimum fraction of the ideal quantity accepted when capital is short (0-1]
available_quantity_ratio = 0.5
# Loss limits as a percentage of account value
daily_loss_limit_percent = 2.0
weekly_loss_limit_percent = 5.0
monthly_loss_limit_percent = 10.0
# Cron specs (local timezone) for window resets
daily_reset_spec = "0 0 * * *"
weekly_reset_spec = "0 0 * * 1"
monthly_reset_spec = "0 0 1 * *"

[verification]
max_attempts = 10
poll_interval = "2s"
timeout = "30s"

[pricing]
# Providers: finnhub, alphavantage, alpaca, kite, static
providers = ["static"]
provider_timeout = "5s"

[pricing.finnhub]
api_key = ""
requests_per_minute = 60

[pricing.alphavantage]
api_key = ""
requests_per_minute = 5

[pricing.static]
# SYMBOL = price, used by the static provider

[broker.alpaca]
# WARNING: prefer APCA_API_KEY_ID / APCA_API_SECRET_KEY in .env
api_key = ""
api_secret = ""
base_url = "https://paper-api.alpaca.markets"

[broker.kite]
api_key = ""
access_token = ""
exchange = "NSE"
product = "CNC"

[broker.circuit_breaker]
max_failures = 5
reset_timeout = "60s"
half_open_max = 1

[store]
# Relative paths are resolved against the config directory
plan_path = "plans.json"
journal_path = "journal.db"

[logging]
level = "info"
console = true
file = true
max_size = 100
max_backups = 7
max_age = 30
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	// Restricted permissions: the file may hold broker credentials.
	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return fmt.Errorf("config file not found, created template at %s", path)
}
