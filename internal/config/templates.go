package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# okx-trader configuration

[trading]
mode = "paper"          # "live" or "paper"
symbols = ["BTC-USDT-SWAP", "ETH-USDT-SWAP"]
leverage = 1.0

[freshness]
price_validity_sec = 30
technical_validity_sec = 120
ai_validity_sec = 300
model_validity_sec = 600
sync_window_sec = 60

[fusion]
min_confidence = 0.6
consensus_threshold = 0.7
consensus_bonus = 0.1
low_consensus_discount = 0.2
recent_accuracy_alpha = 0.1

[risk]
stop_loss_type = "fixed"    # "fixed" or "atr"
initial_stop_pct = 0.02
atr_multiplier = 2.0
trailing_distance = 0.01
min_profit_for_trail = 0.005
emergency_multiple = 1.5
take_profit_targets = [[0.01, 0.3], [0.02, 0.5], [0.03, 1.0]]

[execution]
slippage_mode = "percentage"  # "none", "percentage", "absolute", "adaptive"
max_slippage_pct = 0.002
max_slippage_abs = 50.0
adaptive_factor = 1.5
max_retry_attempts = 3
retry_base_delay_ms = 500
retry_backoff_factor = 2.0
retry_jitter_fraction = 0.2
duplicate_window_sec = 30
partial_fill_timeout_sec = 300

[monitor]
max_workers = 8
predictor_concurrency = 3
update_interval_sec = 60
task_timeout_sec = 30
max_consecutive_errors = 5
total_capital = 100000.0
max_position_ratio = 0.30
min_trade_value = 100.0
max_signals_per_cycle = 5
`

const credentialsTemplate = `# okx-trader credentials
# Fill in your API keys. Environment variables override these values:
# OKX_API_KEY, OKX_SECRET_KEY, OKX_PASSPHRASE, OPENAI_API_KEY, MODEL_SERVICE_URL

[exchange]
api_key = ""
secret_key = ""
passphrase = ""
base_url = "https://www.okx.com"

[openai]
api_key = ""
model = "gpt-4o"

[model_service]
base_url = "http://localhost:8100"
timeout_sec = 30
`

func createTemplateConfig(configDir string) error {
	return writeTemplate(configDir, "config.toml", configTemplate, 0644)
}

func createTemplateCredentials(configDir string) error {
	// Credentials are secrets; restrict permissions.
	return writeTemplate(configDir, "credentials.toml", credentialsTemplate, 0600)
}

func writeTemplate(configDir, name, content string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	if _, err := os.Stat(path); err == nil {
		return nil // Already exists
	}

	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}

	return nil
}
