package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Well-known subtensor networks and their subnet ids.
const (
	FinneyNetwork     = "finney"
	FinneyTestNetwork = "test"

	FinneySubtensorAddress     = "wss://entrypoint-finney.opentensor.ai:443"
	FinneyTestSubtensorAddress = "wss://test.finney.opentensor.ai:443"

	FinneyNetuid     = 16
	FinneyTestNetuid = 368
)

// Config holds every runtime setting of the validator. Values come from the
// environment, optionally seeded from a .env file in the working directory.
type Config struct {
	Env              string
	ListenAddr       string
	LogLevel         string
	RemoteSiteOrigin string

	DatabaseURL   string
	MappingSource string

	PrometheusEndpoint string
	PoolOwnerWallet    string

	SubtensorNetwork string
	SubtensorAddress string
	Netuid           int

	WalletName   string
	WalletHotkey string
	WalletPath   string

	Window                    time.Duration
	CacheTTL                  time.Duration
	RegistrationTimeTolerance time.Duration
	VerifySignature           bool
	MaxWorkersPerHotkey       int

	SyncInterval     time.Duration
	MinWeightedStake float64
	ProbeTimeout     time.Duration
	PeerPageSize     int

	SetWeightsInterval         time.Duration
	UptimeAlpha                float64
	MaxDifficulty              float64
	InvalidSharesPenaltyFactor float64
	RatingDigits               int
}

// Load reads configuration from the environment. A missing .env file is not
// an error; unset variables take their defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:              envString("ENV", "prod"),
		ListenAddr:       envString("LISTEN_ADDR", ":8000"),
		LogLevel:         envString("LOG_LEVEL", "info"),
		RemoteSiteOrigin: envString("REMOTE_SITE_ORIGIN", "https://hashtensor.com"),

		DatabaseURL:   envString("DATABASE_URL", "sqlite://data/mapping.db"),
		MappingSource: envString("MAPPING_SOURCE", "database"),

		PrometheusEndpoint: envString("PROMETHEUS_ENDPOINT", "http://pool.hashtensor.com:9090"),
		PoolOwnerWallet:    envString("POOL_OWNER_WALLET", "kaspa:qr4ksh6s3rmy5f4qyql2kh7p9z7f4c55da5r5gz2nnsd8ctt4k69whtr4u0wp"),

		SubtensorNetwork: envString("SUBTENSOR_NETWORK", FinneyNetwork),
		SubtensorAddress: envString("SUBTENSOR_ADDRESS", ""),

		WalletName:   envString("WALLET_NAME", "default"),
		WalletHotkey: envString("WALLET_HOTKEY", "default"),
		WalletPath:   envString("WALLET_PATH", os.ExpandEnv("$HOME/.bittensor/wallets")),

		VerifySignature: envBool("VERIFY_SIGNATURE", true),
	}

	var err error
	if cfg.Window, err = envDuration("WINDOW", time.Hour); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = envDuration("CACHE_TTL", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.RegistrationTimeTolerance, err = envDuration("REGISTRATION_TIME_TOLERANCE", time.Minute); err != nil {
		return nil, err
	}
	if cfg.SyncInterval, err = envDuration("SYNC_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ProbeTimeout, err = envDuration("PROBE_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.SetWeightsInterval, err = envDuration("SET_WEIGHTS_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.MaxWorkersPerHotkey, err = envInt("MAX_WORKERS_PER_HOTKEY", 30); err != nil {
		return nil, err
	}
	if cfg.PeerPageSize, err = envInt("PEER_PAGE_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.RatingDigits, err = envInt("RATING_DIGITS", 8); err != nil {
		return nil, err
	}
	if cfg.MinWeightedStake, err = envFloat("MIN_WEIGHTED_STAKE", 1000); err != nil {
		return nil, err
	}
	if cfg.UptimeAlpha, err = envFloat("UPTIME_ALPHA", 2.0); err != nil {
		return nil, err
	}
	if cfg.MaxDifficulty, err = envFloat("MAX_DIFFICULTY", 1_000_000); err != nil {
		return nil, err
	}
	if cfg.InvalidSharesPenaltyFactor, err = envFloat("INVALID_SHARES_PENALTY_FACTOR", 0.5); err != nil {
		return nil, err
	}

	if cfg.SubtensorAddress == "" {
		switch cfg.SubtensorNetwork {
		case FinneyNetwork:
			cfg.SubtensorAddress = FinneySubtensorAddress
		case FinneyTestNetwork:
			cfg.SubtensorAddress = FinneyTestSubtensorAddress
		default:
			return nil, fmt.Errorf("unrecognized subtensor network %q", cfg.SubtensorNetwork)
		}
	}

	defaultNetuid := FinneyNetuid
	if cfg.SubtensorNetwork == FinneyTestNetwork {
		defaultNetuid = FinneyTestNetuid
	}
	if cfg.Netuid, err = envInt("NETUID", defaultNetuid); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
