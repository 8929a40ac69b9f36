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

package tabnet

import (
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tabnet-io/tabnet/consensus"
	"github.com/tabnet-io/tabnet/ledger"
)

type Config struct {
	promRegistry    prometheus.Registerer
	logger          *slog.Logger
	dataDir         string
	network         string
	mempoolCapacity int
	shutdownTimeout time.Duration
	tracing         bool
	tracingStdout   bool
	// Consensus
	blockInterval    time.Duration
	maxBlockTxs      int
	minScore         float64
	maxValidators    int
	proposerCooldown uint64
	attesters        map[string]consensus.Attester
	// Token distribution
	selfOperatedSplit ledger.SplitConfig
	franchiseSplit    ledger.SplitConfig
	operatorAddress   string
	charityAddress    string
	royaltyAddress    string
	claimValidity     time.Duration
	// Engagement accrual
	dailyUtilityCap uint64
	engagementRates map[string]uint64
	// Compliance
	kycValidityWindow time.Duration
	// Conversion rounds
	reserveFractionPct uint64
	conversionInterval uint64
	// Governance
	votingWindow   time.Duration
	executionDelay time.Duration
	quorumPct      uint64
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new tabnet config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithNetwork specifies the named network to operate on
func WithNetwork(network string) ConfigOptionFunc {
	return func(c *Config) {
		c.network = network
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithMempoolCapacity sets the mempool capacity (in transactions)
func WithMempoolCapacity(capacity int) ConfigOptionFunc {
	return func(c *Config) {
		c.mempoolCapacity = capacity
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithBlockInterval specifies how often the consensus engine attempts to
// produce a block. The default is 5 seconds
func WithBlockInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.blockInterval = interval
	}
}

// WithMaxBlockTxs caps the number of transactions per block. The default is 100
func WithMaxBlockTxs(maxTxs int) ConfigOptionFunc {
	return func(c *Config) {
		c.maxBlockTxs = maxTxs
	}
}

// WithValidatorSelection configures the validator candidacy floor, the
// selection set size, and the proposer cooldown in heights
func WithValidatorSelection(
	minScore float64,
	maxValidators int,
	proposerCooldown uint64,
) ConfigOptionFunc {
	return func(c *Config) {
		c.minScore = minScore
		c.maxValidators = maxValidators
		c.proposerCooldown = proposerCooldown
	}
}

// WithAttesters overrides block attestation per validator id. Validators
// without an entry fall back to local re-validation
func WithAttesters(attesters map[string]consensus.Attester) ConfigOptionFunc {
	return func(c *Config) {
		c.attesters = attesters
	}
}

// WithSplits specifies the mint split configuration per node kind. Each
// split must sum to 100
func WithSplits(
	selfOperated ledger.SplitConfig,
	franchise ledger.SplitConfig,
) ConfigOptionFunc {
	return func(c *Config) {
		c.selfOperatedSplit = selfOperated
		c.franchiseSplit = franchise
	}
}

// WithPayoutAddresses specifies the network-level payout addresses for
// the operator, charity, and royalty shares of each mint
func WithPayoutAddresses(
	operator string,
	charity string,
	royalty string,
) ConfigOptionFunc {
	return func(c *Config) {
		c.operatorAddress = operator
		c.charityAddress = charity
		c.royaltyAddress = royalty
	}
}

// WithClaimValidity specifies how long a claim token stays redeemable
func WithClaimValidity(validity time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.claimValidity = validity
	}
}

// WithDailyUtilityCap bounds utility token credits per identity per UTC
// day. Zero means uncapped
func WithDailyUtilityCap(units uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.dailyUtilityCap = units
	}
}

// WithEngagementRates maps engagement event kinds to units credited per
// unit quantity
func WithEngagementRates(rates map[string]uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.engagementRates = rates
	}
}

// WithKycValidityWindow specifies how long a KYC verification remains
// valid before it expires. Zero disables expiry
func WithKycValidityWindow(window time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.kycValidityWindow = window
	}
}

// WithConversion configures conversion rounds: the percentage of the
// reserve drained per round and the round interval in committed blocks.
// A zero interval disables scheduled rounds
func WithConversion(
	reserveFractionPct uint64,
	interval uint64,
) ConfigOptionFunc {
	return func(c *Config) {
		c.reserveFractionPct = reserveFractionPct
		c.conversionInterval = interval
	}
}

// WithGovernance configures the proposal voting window, the execution
// delay after passing, and the participation quorum percentage
func WithGovernance(
	votingWindow time.Duration,
	executionDelay time.Duration,
	quorumPct uint64,
) ConfigOptionFunc {
	return func(c *Config) {
		c.votingWindow = votingWindow
		c.executionDelay = executionDelay
		c.quorumPct = quorumPct
	}
}
