// Package config resolves per-chain addresses, signer keys, and API
// credentials from the environment — the role the teacher's main.go
// env parsing plus bitcoin.Config played, generalized to one struct.
package config

import (
	"crypto/ecdsa"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressBook holds the per-chain well-known contract addresses (C1).
type AddressBook struct {
	Settlement721     common.Address
	Settlement20      common.Address
	WrappedNative     common.Address
	WrappedNativeHelp common.Address // depositAndApprove helper
	Permit2           common.Address
}

// Config is the process-wide configuration resolved once at boot.
type Config struct {
	ChainID int64

	NodeRPCURL string
	NodeWSURL  string

	RedisURL    string
	PostgresURL string

	SolverKey         *ecdsa.PrivateKey
	SolverAddress     common.Address
	MatchmakerKey     *ecdsa.PrivateKey // only set on a matchmaker-side deployment
	MatchmakerAddress common.Address
	RelaySignerKey    *ecdsa.PrivateKey

	MatchmakerBaseURL string
	SolverBaseURL     string

	AggregatorBaseURL      string
	AggregatorAPIKey       string
	NFTRoutingBaseURL      string
	NFTRoutingAPIKey       string
	FlashbotsRelayURL      string
	BloxrouteGatewayURL    string
	PrivateRelayBAuthToken string // optional; presence selects Private-B

	AdminPort string

	RelayDirectlyWhenPossible bool

	Addresses AddressBook
}

// Load reads the process configuration from the environment. Required
// credentials fail the process immediately (mirrors the teacher's
// requireEnv); everything else falls back to a safe default.
func Load() (*Config, error) {
	chainIDStr := requireEnv("CHAIN_ID")
	chainID, err := strconv.ParseInt(chainIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CHAIN_ID: %w", err)
	}

	solverKey, err := loadKey(requireEnv("SOLVER_PRIVATE_KEY"))
	if err != nil {
		return nil, fmt.Errorf("invalid SOLVER_PRIVATE_KEY: %w", err)
	}

	cfg := &Config{
		ChainID:       chainID,
		NodeRPCURL:    requireEnv("NODE_RPC_URL"),
		NodeWSURL:     getEnvOrDefault("NODE_WS_URL", ""),
		RedisURL:      getEnvOrDefault("REDIS_URL", "redis://127.0.0.1:6379/0"),
		PostgresURL:   getEnvOrDefault("DATABASE_URL", ""),
		SolverKey:     solverKey,
		SolverAddress: crypto.PubkeyToAddress(solverKey.PublicKey),

		MatchmakerAddress: common.HexToAddress(getEnvOrDefault("MATCHMAKER_ADDRESS", "")),
		MatchmakerBaseURL: getEnvOrDefault("MATCHMAKER_BASE_URL", ""),
		SolverBaseURL:     getEnvOrDefault("SOLVER_BASE_URL", ""),

		AggregatorBaseURL:      getEnvOrDefault("AGGREGATOR_BASE_URL", ""),
		AggregatorAPIKey:       os.Getenv("AGGREGATOR_API_KEY"),
		NFTRoutingBaseURL:      getEnvOrDefault("NFT_ROUTING_BASE_URL", ""),
		NFTRoutingAPIKey:       os.Getenv("NFT_ROUTING_API_KEY"),
		FlashbotsRelayURL:      getEnvOrDefault("FLASHBOTS_RELAY_URL", "https://relay.flashbots.net"),
		BloxrouteGatewayURL:    getEnvOrDefault("BLOXROUTE_GATEWAY_URL", ""),
		PrivateRelayBAuthToken: os.Getenv("PRIVATE_RELAY_B_AUTH_TOKEN"),

		AdminPort: getEnvOrDefault("ADMIN_PORT", "5339"),

		RelayDirectlyWhenPossible: os.Getenv("RELAY_DIRECTLY_WHEN_POSSIBLE") == "true",

		Addresses: AddressBook{
			Settlement20:      common.HexToAddress(requireEnv("SETTLEMENT_ERC20_ADDRESS")),
			Settlement721:     common.HexToAddress(getEnvOrDefault("SETTLEMENT_ERC721_ADDRESS", "")),
			WrappedNative:     common.HexToAddress(requireEnv("WRAPPED_NATIVE_ADDRESS")),
			WrappedNativeHelp: common.HexToAddress(getEnvOrDefault("WRAPPED_NATIVE_HELPER_ADDRESS", "")),
			Permit2:           common.HexToAddress(getEnvOrDefault("PERMIT2_ADDRESS", "")),
		},
	}

	if mmKeyHex := os.Getenv("MATCHMAKER_PRIVATE_KEY"); mmKeyHex != "" {
		mmKey, err := loadKey(mmKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid MATCHMAKER_PRIVATE_KEY: %w", err)
		}
		cfg.MatchmakerKey = mmKey
	}

	relayKeyHex := requireEnv("PRIVATE_RELAY_SIGNER_KEY")
	relayKey, err := loadKey(relayKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid PRIVATE_RELAY_SIGNER_KEY: %w", err)
	}
	cfg.RelaySignerKey = relayKey

	return cfg, nil
}

// UsePrivateB reports whether relay B credentials are configured — the
// spec's "global config flag" for choosing between the two private relays.
func (c *Config) UsePrivateB() bool {
	return c.PrivateRelayBAuthToken != ""
}


func loadKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if len(hexKey) >= 2 && (hexKey[:2] == "0x" || hexKey[:2] == "0X") {
		hexKey = hexKey[2:]
	}
	return crypto.HexToECDSA(hexKey)
}

func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: required environment variable %s is not set", key)
	}
	return val
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// Constants from spec §6.
const (
	PessimisticBlockTimeSeconds = 13
	BlockTimeSeconds            = 12
	MatchmakerAuthorizationGas  = 100_000
	MemswapGas                  = 150_000
	DefaultSwapGas              = 200_000
)
