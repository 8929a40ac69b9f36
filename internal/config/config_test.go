package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tabnet-io/tabnet/ledger"
)

func resetGlobalConfig() {
	globalConfig = &Config{
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
}

func TestLoad_WithoutConfigFile_UsesDefaults(t *testing.T) {
	resetGlobalConfig()

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.BindAddr != "0.0.0.0" {
		t.Errorf("expected default bindAddr, got: %s", cfg.BindAddr)
	}
	if cfg.DailyUtilityCap != 500 {
		t.Errorf("expected default dailyUtilityCap, got: %d", cfg.DailyUtilityCap)
	}
	if cfg.BlockIntervalDuration() != 5*time.Second {
		t.Errorf("expected 5s block interval, got: %s", cfg.BlockIntervalDuration())
	}
}

func TestLoad_OverlaysYamlOntoDefaults(t *testing.T) {
	resetGlobalConfig()
	yamlContent := `
bindAddr: "127.0.0.1"
metricsPort: 8088
blockInterval: "250ms"
dailyUtilityCap: 1000
franchiseSplit:
  operatorPct: 30
  ownerPct: 19
  charityPct: 3
  buyerPct: 48
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test-tabnet.yaml")

	err := os.WriteFile(tmpFile, []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.BindAddr != "127.0.0.1" {
		t.Errorf("expected overridden bindAddr, got: %s", cfg.BindAddr)
	}
	if cfg.MetricsPort != 8088 {
		t.Errorf("expected overridden metricsPort, got: %d", cfg.MetricsPort)
	}
	if cfg.BlockIntervalDuration() != 250*time.Millisecond {
		t.Errorf("expected overridden blockInterval, got: %s", cfg.BlockIntervalDuration())
	}
	if cfg.FranchiseSplit.OperatorPct != 30 {
		t.Errorf("expected overridden franchise operator pct, got: %d", cfg.FranchiseSplit.OperatorPct)
	}
	// Untouched keys keep their defaults
	if cfg.DatabasePath != ".tabnet" {
		t.Errorf("expected default databasePath, got: %s", cfg.DatabasePath)
	}
}

func TestLoad_RejectsInvalidSplit(t *testing.T) {
	resetGlobalConfig()
	yamlContent := `
selfOperatedSplit:
  ownerPct: 48
  charityPct: 3
  buyerPct: 48
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test-bad-split.yaml")

	err := os.WriteFile(tmpFile, []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := LoadConfig(tmpFile); err == nil {
		t.Error("expected error for split not summing to 100")
	}
}

func TestLoad_RejectsInvalidDuration(t *testing.T) {
	resetGlobalConfig()
	yamlContent := `
blockInterval: "soon"
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test-bad-duration.yaml")

	err := os.WriteFile(tmpFile, []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := LoadConfig(tmpFile); err == nil {
		t.Error("expected error for unparseable duration")
	}
}
