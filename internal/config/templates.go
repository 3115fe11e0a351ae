package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Quantum Trader Configuration

[trading]
symbols = ["BTC/EUR", "ETH/EUR", "SOL/EUR"]
timeframes = ["1m", "5m", "15m", "1h", "4h"]
# Trading cycle and error sleep
cycle_interval = "300s"
error_backoff = "60s"
# Health pass interval and sleep after a failed pass
health_interval = "3600s"
health_error_backoff = "600s"
# Minimum signal confidence to execute (0 disables)
min_confidence = 0.0

[risk]
initial_capital = 10000.0
# Fraction of capital risked per trade
max_risk_per_trade = 0.01
stop_loss_percent = 0.02
take_profit_percent = 0.05
max_open_trades = 3
max_trade_duration = "24h"
confidence_threshold = 0.7

[venue]
# Venue: paper, binance, kite
name = "paper"
# Market data for the paper venue: none, binance, kite
data_source = "binance"
testnet = false
requests_per_second = 5
paper_balance = 10000.0
# Feed paper prices from the websocket ticker
stream_prices = false

[features]
reference_timeframes = ["1h", "4h"]
candle_limit = 500
# Feature cache: none, memory, redis
cache = "memory"
cache_ttl = "60s"

[features.redis]
addr = "localhost:6379"
db = 0

[scoring]
# Model: heuristic, onnx, llm
model = "heuristic"
onnx_path = ""
onnx_lib = ""
llm_model = "gpt-4o-mini"

[storage]
# Driver: sqlite, postgres
driver = "sqlite"
sqlite_path = ""

[storage.kafka]
enabled = false
brokers = ["localhost:9092"]
topic = "trades"

[notifications]
enabled = false
level = "all"   # all, trades_only, errors_only

[notifications.telegram]
enabled = false
chat_id = 0

[server]
enabled = true
host = "127.0.0.1"
port = 8080

[logging]
level = "info"
max_size_mb = 10
max_backups = 5
`

const credentialsTemplate = `# Quantum Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.

# base64 secretbox key for <BASE>_<QUOTE>_API_KEY ciphertexts
secret_key = ""

[binance]
api_key = ""
api_secret = ""

[kite]
api_key = ""
access_token = ""

[openai]
api_key = ""

[telegram]
api_key = ""
`

func createTemplate(configDir, file, content string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, file)
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", file, err)
	}
	return nil
}
