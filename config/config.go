package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the daemon configuration.
type Config struct {
	LndHost         string
	LndCertFile     string
	LndMacaroonFile string
	CltvDelta       uint64
	PaymentTimeout  time.Duration
	Network         string
	DBPath          string
	PrivateKey      string // 32-byte hex, signs outbound protocol messages
	MetricsAddr     string // empty disables the metrics listener
	BridgeAddr      string // local envelope-injection endpoint
}

// Load reads the configuration from the environment, honoring a local .env
// file when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Network:     getEnv("LN_NETWORK", "mainnet"),
		DBPath:      getEnv("DB_PATH", "mostro.db"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		BridgeAddr:  getEnv("BRIDGE_ADDR", "127.0.0.1:8998"),
	}

	host := os.Getenv("LND_GRPC_HOST")
	port := os.Getenv("LND_GRPC_PORT")
	if host == "" || port == "" {
		return nil, fmt.Errorf("LND_GRPC_HOST and LND_GRPC_PORT must be set")
	}
	cfg.LndHost = host + ":" + port

	cfg.LndCertFile = os.Getenv("LND_CERT_FILE")
	if cfg.LndCertFile == "" {
		return nil, fmt.Errorf("LND_CERT_FILE must be set")
	}
	cfg.LndMacaroonFile = os.Getenv("LND_MACAROON_FILE")
	if cfg.LndMacaroonFile == "" {
		return nil, fmt.Errorf("LND_MACAROON_FILE must be set")
	}

	cltv, err := strconv.ParseUint(getEnv("HOLD_INVOICE_CLTV_DELTA", "144"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("HOLD_INVOICE_CLTV_DELTA is not a number: %v", err)
	}
	cfg.CltvDelta = cltv

	timeoutSecs, err := strconv.Atoi(getEnv("PAYMENT_TIMEOUT_SECONDS", "60"))
	if err != nil {
		return nil, fmt.Errorf("PAYMENT_TIMEOUT_SECONDS is not a number: %v", err)
	}
	cfg.PaymentTimeout = time.Duration(timeoutSecs) * time.Second

	cfg.PrivateKey = os.Getenv("NOSTR_PRIVATE_KEY")
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("NOSTR_PRIVATE_KEY must be set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
