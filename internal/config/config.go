// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/tabnet-io/tabnet/ledger"
)

type ctxKey string

const configContextKey ctxKey = "tabnet.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	BindAddr        string `yaml:"bindAddr"        split_words:"true"`
	DatabasePath    string `yaml:"databasePath"    split_words:"true"`
	Network         string `yaml:"network"`
	ShutdownTimeout string `yaml:"shutdownTimeout" split_words:"true"`
	MetricsPort     uint   `yaml:"metricsPort"     split_words:"true"`
	MempoolCapacity int    `yaml:"mempoolCapacity" split_words:"true"`

	// Consensus
	ValidatorId      string  `yaml:"validatorId"      split_words:"true"`
	BlockInterval    string  `yaml:"blockInterval"    split_words:"true"`
	MaxBlockTxs      int     `yaml:"maxBlockTxs"      split_words:"true"`
	MinScore         float64 `yaml:"minScore"         split_words:"true"`
	MaxValidators    int     `yaml:"maxValidators"    split_words:"true"`
	ProposerCooldown uint64  `yaml:"proposerCooldown" split_words:"true"`

	// Token distribution
	SelfOperatedSplit ledger.SplitConfig `yaml:"selfOperatedSplit" envconfig:"self_operated_split"`
	FranchiseSplit    ledger.SplitConfig `yaml:"franchiseSplit"    envconfig:"franchise_split"`
	OperatorAddress   string             `yaml:"operatorAddress"   split_words:"true"`
	CharityAddress    string             `yaml:"charityAddress"    split_words:"true"`
	RoyaltyAddress    string             `yaml:"royaltyAddress"    split_words:"true"`
	ClaimValidity     string             `yaml:"claimValidity"     split_words:"true"`

	// Engagement accrual
	DailyUtilityCap uint64            `yaml:"dailyUtilityCap" split_words:"true"`
	EngagementRates map[string]uint64 `yaml:"engagementRates" split_words:"true"`

	// Compliance
	KycValidityWindow string `yaml:"kycValidityWindow" envconfig:"KYC_VALIDITY_WINDOW"`

	// Conversion rounds
	ReserveFractionPct uint64 `yaml:"reserveFractionPct" split_words:"true"`
	ConversionInterval uint64 `yaml:"conversionInterval" split_words:"true"`

	// Governance
	VotingWindow   string `yaml:"votingWindow"   split_words:"true"`
	ExecutionDelay string `yaml:"executionDelay" split_words:"true"`
	QuorumPct      uint64 `yaml:"quorumPct"      split_words:"true"`
}

var globalConfig = &Config{
	BindAddr:         "0.0.0.0",
	DatabasePath:     ".tabnet",
	Network:          "devnet",
	ShutdownTimeout:  DefaultShutdownTimeout,
	MetricsPort:      12798,
	MempoolCapacity:  4096,
	BlockInterval:    "5s",
	MaxBlockTxs:      100,
	MinScore:         0.1,
	MaxValidators:    5,
	ProposerCooldown: 2,
	SelfOperatedSplit: ledger.SplitConfig{
		OwnerPct:   48,
		CharityPct: 3,
		BuyerPct:   49,
	},
	FranchiseSplit: ledger.SplitConfig{
		OperatorPct: 25,
		OwnerPct:    24,
		CharityPct:  3,
		BuyerPct:    48,
	},
	OperatorAddress: "network-operator",
	CharityAddress:  "charity-pool",
	RoyaltyAddress:  "founder-royalty",
	ClaimValidity:   "720h",
	DailyUtilityCap: 500,
	EngagementRates: map[string]uint64{
		"view":          1,
		"like":          1,
		"comment":       5,
		"share":         10,
		"stream_minute": 2,
	},
	KycValidityWindow:  "8760h",
	ReserveFractionPct: 50,
	ConversionInterval: 1000,
	VotingWindow:       "72h",
	ExecutionDelay:     "24h",
	QuorumPct:          30,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.tabnet/tabnet.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".tabnet", "tabnet.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/tabnet/tabnet.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/tabnet/tabnet.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Overlay config values onto existing defaults
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	// Process environment variables
	err := envconfig.Process("tabnet", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	if err := globalConfig.SelfOperatedSplit.Validate(); err != nil {
		return nil, fmt.Errorf("invalid selfOperatedSplit: %w", err)
	}
	if err := globalConfig.FranchiseSplit.Validate(); err != nil {
		return nil, fmt.Errorf("invalid franchiseSplit: %w", err)
	}
	if globalConfig.ReserveFractionPct > 100 {
		return nil, fmt.Errorf(
			"invalid reserveFractionPct: %d (must be 0-100)",
			globalConfig.ReserveFractionPct,
		)
	}
	if globalConfig.QuorumPct > 100 {
		return nil, fmt.Errorf(
			"invalid quorumPct: %d (must be 0-100)",
			globalConfig.QuorumPct,
		)
	}
	// Parse all duration fields up front so bad values fail at startup
	for name, value := range map[string]string{
		"shutdownTimeout":   globalConfig.ShutdownTimeout,
		"blockInterval":     globalConfig.BlockInterval,
		"claimValidity":     globalConfig.ClaimValidity,
		"kycValidityWindow": globalConfig.KycValidityWindow,
		"votingWindow":      globalConfig.VotingWindow,
		"executionDelay":    globalConfig.ExecutionDelay,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}

// Duration helpers. LoadConfig has already validated the underlying
// strings, so parse failures here fall back to the zero duration.

func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

func (c *Config) BlockIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.BlockInterval)
	return d
}

func (c *Config) ClaimValidityDuration() time.Duration {
	d, _ := time.ParseDuration(c.ClaimValidity)
	return d
}

func (c *Config) KycValidityWindowDuration() time.Duration {
	d, _ := time.ParseDuration(c.KycValidityWindow)
	return d
}

func (c *Config) VotingWindowDuration() time.Duration {
	d, _ := time.ParseDuration(c.VotingWindow)
	return d
}

func (c *Config) ExecutionDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.ExecutionDelay)
	return d
}
