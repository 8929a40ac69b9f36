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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tabnet-io/tabnet/chain"
	"github.com/tabnet-io/tabnet/consensus"
	"github.com/tabnet-io/tabnet/conversion"
	"github.com/tabnet-io/tabnet/database"
	"github.com/tabnet-io/tabnet/event"
	"github.com/tabnet-io/tabnet/governance"
	"github.com/tabnet-io/tabnet/kyc"
	"github.com/tabnet-io/tabnet/ledger"
	"github.com/tabnet-io/tabnet/mempool"
	"github.com/tabnet-io/tabnet/validator"
)

type Node struct {
	eventBus      *event.EventBus
	db            *database.Database
	kycGate       *kyc.Gate
	registry      *validator.Registry
	ledger        *ledger.Ledger
	mempool       *mempool.Mempool
	chain         *chain.Chain
	engine        *consensus.Engine
	conversion    *conversion.Manager
	governance    *governance.Manager
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	eventBus := event.NewEventBus(cfg.promRegistry)
	n := &Node{
		config:   cfg,
		eventBus: eventBus,
		done:     make(chan struct{}),
	}
	return n, nil
}

func (n *Node) Run(ctx context.Context) error {
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(&database.Config{
		DataDir:      n.config.dataDir,
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	// Compliance gate
	n.kycGate = kyc.NewGate(kyc.GateConfig{
		Logger:         n.config.logger,
		EventBus:       n.eventBus,
		Database:       n.db,
		ValidityWindow: n.config.kycValidityWindow,
	})
	// Validator registry
	n.registry = validator.NewRegistry(validator.RegistryConfig{
		Logger:           n.config.logger,
		EventBus:         n.eventBus,
		Database:         n.db,
		MinScore:         n.config.minScore,
		MaxValidators:    n.config.maxValidators,
		ProposerCooldown: n.config.proposerCooldown,
	})
	// Token ledger
	l, err := ledger.New(ledger.LedgerConfig{
		Logger:            n.config.logger,
		EventBus:          n.eventBus,
		Database:          n.db,
		PromRegistry:      n.config.promRegistry,
		Gate:              n.kycGate,
		SelfOperatedSplit: n.config.selfOperatedSplit,
		FranchiseSplit:    n.config.franchiseSplit,
		OperatorAddress:   n.config.operatorAddress,
		CharityAddress:    n.config.charityAddress,
		RoyaltyAddress:    n.config.royaltyAddress,
		ClaimValidity:     n.config.claimValidity,
		DailyUtilityCap:   n.config.dailyUtilityCap,
		EngagementRates:   n.config.engagementRates,
	})
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	n.ledger = l
	// Initialize mempool
	n.mempool = mempool.NewMempool(mempool.MempoolConfig{
		MempoolCapacity: n.config.mempoolCapacity,
		Logger:          n.config.logger,
		EventBus:        n.eventBus,
		PromRegistry:    n.config.promRegistry,
		Validator:       n.ledger,
	})
	// Set mempool in ledger for transaction submission
	n.ledger.SetSubmitter(n.mempool)
	// Wire restriction lifting to KYC decisions
	if err := n.ledger.Start(); err != nil {
		return fmt.Errorf("failed to start ledger: %w", err)
	}
	// Load chain
	c, err := chain.NewChain(chain.ChainConfig{
		Logger:   n.config.logger,
		EventBus: n.eventBus,
		Database: n.db,
		Applier:  n.ledger,
	})
	if err != nil {
		return fmt.Errorf("failed to load chain: %w", err)
	}
	n.chain = c
	// Consensus engine
	engine, err := consensus.NewEngine(consensus.EngineConfig{
		Logger:        n.config.logger,
		EventBus:      n.eventBus,
		PromRegistry:  n.config.promRegistry,
		Chain:         n.chain,
		Mempool:       n.mempool,
		Registry:      n.registry,
		Selector:      n.ledger,
		BlockInterval: n.config.blockInterval,
		MaxBlockTxs:   n.config.maxBlockTxs,
		Attesters:     n.config.attesters,
	})
	if err != nil {
		return fmt.Errorf("failed to load consensus engine: %w", err)
	}
	n.engine = engine
	// Conversion rounds
	n.conversion = conversion.NewManager(conversion.ManagerConfig{
		Logger:             n.config.logger,
		EventBus:           n.eventBus,
		Database:           n.db,
		Gate:               n.kycGate,
		ReserveFractionPct: n.config.reserveFractionPct,
		RoundInterval:      n.config.conversionInterval,
	})
	if err := n.conversion.Start(); err != nil {
		return fmt.Errorf("failed to start conversion manager: %w", err)
	}
	// Governance
	n.governance = governance.NewManager(governance.ManagerConfig{
		Logger:         n.config.logger,
		EventBus:       n.eventBus,
		Database:       n.db,
		Submitter:      n.mempool,
		VotingWindow:   n.config.votingWindow,
		ExecutionDelay: n.config.executionDelay,
		QuorumPct:      n.config.quorumPct,
	})
	// Start block production
	if err := n.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start consensus engine: %w", err)
	}
	n.config.logger.Info(
		"node started",
		"component", "node",
		"network", n.config.network,
	)

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case <-n.done:
	}
	return nil
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop producing blocks
	n.config.logger.Debug("shutdown phase 1: stopping block production")

	if n.engine != nil {
		if stopErr := n.engine.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("consensus shutdown: %w", stopErr))
		}
	}

	// Phase 2: Stop background managers
	n.config.logger.Debug("shutdown phase 2: stopping managers")

	if n.conversion != nil {
		if stopErr := n.conversion.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("conversion shutdown: %w", stopErr))
		}
	}

	if n.ledger != nil {
		if stopErr := n.ledger.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("ledger shutdown: %w", stopErr))
		}
	}

	// Phase 3: Flush state and close database
	n.config.logger.Debug("shutdown phase 3: flushing state")

	if n.db != nil {
		if closeErr := n.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	// Phase 4: Cleanup resources
	n.config.logger.Debug("shutdown phase 4: cleanup resources")

	// Call registered shutdown functions
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	n.config.logger.Debug("graceful shutdown complete")
	close(n.done)
	return err
}

// RegisterNode adds a franchise or self-operated node that may accept sales
func (n *Node) RegisterNode(
	nodeId string,
	ownerIdentity string,
	kind string,
	city string,
	region string,
) error {
	return n.ledger.RegisterNode(nodeId, ownerIdentity, kind, city, region)
}

// DeactivateNode removes a node from sale acceptance
func (n *Node) DeactivateNode(nodeId string) error {
	return n.ledger.DeactivateNode(nodeId)
}

// AcceptSale processes a POS sale submission and returns the claim token
// for the buyer's reserved share
func (n *Node) AcceptSale(
	saleId string,
	nodeId string,
	amountSubunits uint64,
	buyerReference string,
) (ledger.ClaimToken, error) {
	return n.ledger.AcceptSale(saleId, nodeId, amountSubunits, buyerReference)
}

// Claim redeems a claim token, crediting the reserved share to the
// claiming identity
func (n *Node) Claim(
	claimAddress string,
	activationCode string,
	identity string,
) (ledger.ClaimResult, error) {
	return n.ledger.Claim(claimAddress, activationCode, identity)
}

// Transfer submits a security token transfer for consensus ordering
func (n *Node) Transfer(
	from string,
	to string,
	units uint64,
) (string, error) {
	return n.ledger.Transfer(from, to, units)
}

// CreditEngagement credits utility tokens for a platform engagement event
func (n *Node) CreditEngagement(
	identity string,
	eventKind string,
	quantity uint64,
	platformReference string,
) (ledger.CreditResult, error) {
	return n.ledger.CreditEngagement(
		identity,
		eventKind,
		quantity,
		platformReference,
	)
}

// SetKycStatus records a compliance decision for an identity
func (n *Node) SetKycStatus(identity string, status kyc.Status) error {
	return n.kycGate.SetStatus(identity, status)
}

// KycStatus returns the current compliance status for an identity
func (n *Node) KycStatus(identity string) (kyc.Status, error) {
	return n.kycGate.Status(identity)
}

// RegisterValidator adds a staked validator to the selection pool
func (n *Node) RegisterValidator(
	validatorId string,
	region string,
	stake uint64,
) error {
	return n.registry.Register(validatorId, region, stake)
}

// TriggerConversionRound starts a manual conversion round at the current
// chain tip
func (n *Node) TriggerConversionRound() (string, error) {
	tip := n.chain.Tip()
	round, err := n.conversion.TriggerRound("manual", tip.Height)
	if err != nil {
		return "", err
	}
	return round.RoundId, nil
}

// CreateProposal opens a governance proposal for voting
func (n *Node) CreateProposal(
	proposer string,
	kind string,
	title string,
	description string,
) (string, error) {
	proposal, err := n.governance.CreateProposal(
		proposer,
		kind,
		title,
		description,
	)
	if err != nil {
		return "", err
	}
	return proposal.ProposalId, nil
}

// CastVote records a governance vote weighted by snapshot voting power
func (n *Node) CastVote(proposalId string, voter string, choice string) error {
	return n.governance.CastVote(proposalId, voter, choice)
}

// ProposalResult returns the current outcome of a governance proposal
func (n *Node) ProposalResult(proposalId string) (governance.Result, error) {
	return n.governance.ProposalResult(proposalId)
}
