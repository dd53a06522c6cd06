package params

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
)

// DefaultPriceScale is 10^18: prices are quoted in native base units per whole
// 18-decimal token.
var DefaultPriceScale = uint256.NewInt(1_000_000_000_000_000_000)

type Venue struct {
	// Operator, when non-zero, is the only address allowed to submit
	// set_phase and match transactions. Zero leaves both open to anyone.
	Operator common.Address
	// PriceScale divides quantity*price to get the native cost of a fill.
	PriceScale *uint256.Int
	// SelfTradeGuard skips matching pairs where the offer owner is also the
	// bid's buyer.
	SelfTradeGuard bool
	ChainID        *big.Int
}

type Node struct {
	// MinBlockTime throttles block production.
	//
	// Recommended values:
	//   - Devnet:   200ms
	//   - Tests:    10ms or less
	MinBlockTime time.Duration
	// SkipEmptyBlocks suppresses blocks with no transactions.
	SkipEmptyBlocks bool
	DataDir         string
	LogFile         string
	LogLevel        string
}

type API struct {
	Addr           string
	AllowedOrigins []string
}

// Devnet describes the genesis funding applied to a fresh data dir.
type Devnet struct {
	Accounts      []common.Address
	NativeFunding *uint256.Int
	TokenFunding  *uint256.Int
	TokenSymbol   string
}

type Config struct {
	Venue  Venue
	Node   Node
	API    API
	Devnet Devnet
}

func Default() Config {
	tenThousand := new(uint256.Int).Mul(uint256.NewInt(10_000), DefaultPriceScale)
	return Config{
		Venue: Venue{
			PriceScale: new(uint256.Int).Set(DefaultPriceScale),
			ChainID:    big.NewInt(1337), // Local dev chain
		},
		Node: Node{
			MinBlockTime:    200 * time.Millisecond,
			SkipEmptyBlocks: true,
			DataDir:         "./data",
			LogFile:         "./logs/node.log",
			LogLevel:        "info",
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Devnet: Devnet{
			NativeFunding: new(uint256.Int).Set(tenThousand),
			TokenFunding:  new(uint256.Int).Set(tenThousand),
			TokenSymbol:   "DUTCH",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if op := os.Getenv("VENUE_OPERATOR"); op != "" {
		if !common.IsHexAddress(op) {
			return cfg, fmt.Errorf("VENUE_OPERATOR: invalid address %q", op)
		}
		cfg.Venue.Operator = common.HexToAddress(op)
	}
	if scale := os.Getenv("VENUE_PRICE_SCALE"); scale != "" {
		v, err := uint256.FromDecimal(scale)
		if err != nil {
			return cfg, fmt.Errorf("VENUE_PRICE_SCALE: %w", err)
		}
		cfg.Venue.PriceScale = v
	}
	if guard := os.Getenv("VENUE_SELF_TRADE_GUARD"); guard != "" {
		cfg.Venue.SelfTradeGuard = guard == "true"
	}
	if chain := os.Getenv("VENUE_CHAIN_ID"); chain != "" {
		id, ok := new(big.Int).SetString(chain, 10)
		if !ok {
			return cfg, fmt.Errorf("VENUE_CHAIN_ID: invalid integer %q", chain)
		}
		cfg.Venue.ChainID = id
	}

	if minBlock := os.Getenv("NODE_MIN_BLOCK_TIME_MS"); minBlock != "" {
		if ms, err := strconv.Atoi(minBlock); err == nil {
			cfg.Node.MinBlockTime = time.Duration(ms) * time.Millisecond
		}
	}
	if skip := os.Getenv("NODE_SKIP_EMPTY_BLOCKS"); skip != "" {
		cfg.Node.SkipEmptyBlocks = skip == "true"
	}
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("API_ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = splitList(origins)
	}

	// Devnet accounts from comma-separated list
	if accs := os.Getenv("DEVNET_ACCOUNTS"); accs != "" {
		cfg.Devnet.Accounts = nil
		for _, a := range splitList(accs) {
			if !common.IsHexAddress(a) {
				return cfg, fmt.Errorf("DEVNET_ACCOUNTS: invalid address %q", a)
			}
			cfg.Devnet.Accounts = append(cfg.Devnet.Accounts, common.HexToAddress(a))
		}
	}
	if v := os.Getenv("DEVNET_NATIVE_FUNDING"); v != "" {
		n, err := uint256.FromDecimal(v)
		if err != nil {
			return cfg, fmt.Errorf("DEVNET_NATIVE_FUNDING: %w", err)
		}
		cfg.Devnet.NativeFunding = n
	}
	if v := os.Getenv("DEVNET_TOKEN_FUNDING"); v != "" {
		n, err := uint256.FromDecimal(v)
		if err != nil {
			return cfg, fmt.Errorf("DEVNET_TOKEN_FUNDING: %w", err)
		}
		cfg.Devnet.TokenFunding = n
	}
	cfg.Devnet.TokenSymbol = getEnv("DEVNET_TOKEN_SYMBOL", cfg.Devnet.TokenSymbol)

	return cfg, cfg.Validate()
}

// Validate checks the configuration for values the node cannot run with.
func (c Config) Validate() error {
	if c.Venue.PriceScale == nil || c.Venue.PriceScale.IsZero() {
		return errors.New("venue price scale must be positive")
	}
	if c.Venue.ChainID == nil || c.Venue.ChainID.Sign() <= 0 {
		return errors.New("venue chain id must be positive")
	}
	if c.Node.MinBlockTime < 0 {
		return fmt.Errorf("min block time must not be negative: %s", c.Node.MinBlockTime)
	}
	if c.Node.DataDir == "" {
		return errors.New("data dir is required")
	}
	if c.API.Addr == "" {
		return errors.New("api address is required")
	}
	if len(c.Devnet.Accounts) > 0 && c.Devnet.TokenSymbol == "" {
		return errors.New("devnet token symbol is required when devnet accounts are funded")
	}
	return nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
