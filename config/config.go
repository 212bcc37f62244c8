package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

const defaultCallbackBudgetSeconds = 5

// MaxFeeBasisPoints mirrors the pool engine cap; values above it are
// rejected at load time rather than at the first admin call.
const MaxFeeBasisPoints = 1000

// Pauses holds the per-module kill switches.
type Pauses struct {
	Flashpool    bool `toml:"Flashpool"`
	Flashloan    bool `toml:"Flashloan"`
	Achievements bool `toml:"Achievements"`
}

// Config captures the runtime configuration for the flash-loan daemon.
type Config struct {
	RPCAddress            string   `toml:"RPCAddress"`
	DataDir               string   `toml:"DataDir"`
	AdminAddress          string   `toml:"AdminAddress"`
	FeeBasisPoints        uint32   `toml:"FeeBasisPoints"`
	CallbackBudgetSeconds uint64   `toml:"CallbackBudgetSeconds"`
	RPCRateLimitPerMin    float64  `toml:"RPCRateLimitPerMin"`
	RPCRateLimitBurst     int      `toml:"RPCRateLimitBurst"`
	Whitelist             []string `toml:"Whitelist"`
	DemoReserveWei        string   `toml:"DemoReserveWei"`
	Pauses                Pauses   `toml:"pauses"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration for values the engines would
// reject at runtime.
func (c *Config) Validate() error {
	if !common.IsHexAddress(c.AdminAddress) {
		return fmt.Errorf("config: AdminAddress %q is not a valid hex address", c.AdminAddress)
	}
	if c.FeeBasisPoints > MaxFeeBasisPoints {
		return fmt.Errorf("config: FeeBasisPoints %d exceeds maximum %d", c.FeeBasisPoints, MaxFeeBasisPoints)
	}
	if c.DemoReserveWei != "" {
		if _, ok := new(big.Int).SetString(c.DemoReserveWei, 10); !ok {
			return fmt.Errorf("config: DemoReserveWei %q is not a decimal integer", c.DemoReserveWei)
		}
	}
	for _, asset := range c.Whitelist {
		if strings.TrimSpace(asset) == "" {
			return fmt.Errorf("config: Whitelist contains an empty asset symbol")
		}
	}
	return nil
}

// Admin returns the parsed authorized-principal address.
func (c *Config) Admin() [20]byte {
	return common.HexToAddress(c.AdminAddress)
}

// CallbackBudget returns the configured borrower-callback budget.
func (c *Config) CallbackBudget() time.Duration {
	return time.Duration(c.CallbackBudgetSeconds) * time.Second
}

// DemoReserve returns the reserve minted to the daemon's demo receiver per
// whitelisted asset. Zero when unset.
func (c *Config) DemoReserve() *big.Int {
	if c.DemoReserveWei == "" {
		return big.NewInt(0)
	}
	value, ok := new(big.Int).SetString(c.DemoReserveWei, 10)
	if !ok {
		return big.NewInt(0)
	}
	return value
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./flashloan-data"
	}
	if c.CallbackBudgetSeconds == 0 {
		c.CallbackBudgetSeconds = defaultCallbackBudgetSeconds
	}
	if c.Whitelist == nil {
		c.Whitelist = []string{}
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:            "127.0.0.1:8645",
		DataDir:               "./flashloan-data",
		AdminAddress:          "0x0000000000000000000000000000000000000001",
		FeeBasisPoints:        30,
		CallbackBudgetSeconds: defaultCallbackBudgetSeconds,
		RPCRateLimitPerMin:    600,
		RPCRateLimitBurst:     20,
		Whitelist:             []string{"TEST"},
		DemoReserveWei:        "1000000",
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
