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

// Package consensus drives block production: validator selection,
// proposal, stake-weighted attestation, and commit. The engine is a
// single-writer state machine; only one block is ever in flight per
// height.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tabnet-io/tabnet/chain"
	"github.com/tabnet-io/tabnet/event"
	"github.com/tabnet-io/tabnet/ledger"
	"github.com/tabnet-io/tabnet/mempool"
	"github.com/tabnet-io/tabnet/validator"
)

const (
	StateChangeEventType      event.EventType = "consensus.state_change"
	BlockCommittedEventType   event.EventType = "consensus.block_committed"
	ProposalRejectedEventType event.EventType = "consensus.proposal_rejected"
)

// State is the consensus position for the current height
type State string

const (
	StateCollecting State = "collecting"
	StateProposed   State = "proposed"
	StateValidating State = "validating"
	StateCommitted  State = "committed"
	StateRejected   State = "rejected"
)

// StateChangeEvent is published on every state transition
type StateChangeEvent struct {
	Height   uint64
	OldState State
	NewState State
}

// BlockCommittedEvent is published when a proposed block gathers a stake
// supermajority and is appended
type BlockCommittedEvent struct {
	Height      uint64
	Hash        string
	ValidatorId string
	Txs         int
}

// ProposalRejectedEvent is published when a proposal fails validation or
// attestation; the round returns to collecting
type ProposalRejectedEvent struct {
	Height uint64
	Reason string
}

var (
	ErrNoTransactions    = errors.New("no transactions to propose")
	ErrInsufficientStake = errors.New("attestation below stake threshold")
	ErrAlreadyRunning    = errors.New("consensus engine already running")
)

// Attester votes on a proposed block for one selected validator. The
// default attester re-validates the block locally.
type Attester interface {
	Attest(block chain.Block) bool
}

// AttesterFunc adapts a function to the Attester interface
type AttesterFunc func(block chain.Block) bool

func (f AttesterFunc) Attest(block chain.Block) bool {
	return f(block)
}

// TxSelector filters block candidates with a cumulative view of in-block
// effects. Transactions that are individually valid can still conflict
// within one block; the selector reports which to drop. The ledger
// implements this.
type TxSelector interface {
	SelectBlockTxs(txs []ledger.Tx) (selected []ledger.Tx, dropped []string)
}

// EngineConfig holds configuration for the consensus engine
type EngineConfig struct {
	Logger       *slog.Logger
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
	Chain        *chain.Chain
	Mempool      *mempool.Mempool
	Registry     *validator.Registry
	// Selector filters collected transactions before proposal. Optional;
	// without it candidates are proposed as collected.
	Selector TxSelector
	// BlockInterval is how often the engine attempts a new block
	BlockInterval time.Duration
	// MaxBlockTxs caps transactions per block
	MaxBlockTxs int
	// Attesters overrides attestation per validator id, keyed by
	// validator. Missing entries fall back to local re-validation.
	Attesters map[string]Attester
}

type engineMetrics struct {
	rounds *prometheus.CounterVec
	height prometheus.Gauge
}

// Engine is the consensus state machine
type Engine struct {
	config      EngineConfig
	logger      *slog.Logger
	metrics     engineMetrics
	mutex       sync.Mutex
	state       State
	startedOnce bool
	stopChan    chan struct{}
	doneChan    chan struct{}
}

func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Chain == nil || config.Mempool == nil || config.Registry == nil {
		return nil, errors.New("consensus engine requires chain, mempool, and registry")
	}
	e := &Engine{
		config:   config,
		logger:   config.Logger,
		state:    StateCollecting,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
	if e.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		e.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if e.config.BlockInterval <= 0 {
		e.config.BlockInterval = 5 * time.Second
	}
	if e.config.MaxBlockTxs <= 0 {
		e.config.MaxBlockTxs = 100
	}
	promautoFactory := promauto.With(config.PromRegistry)
	e.metrics.rounds = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabnet_consensus_rounds_total",
			Help: "consensus rounds by result",
		},
		[]string{"result"},
	)
	e.metrics.height = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "tabnet_consensus_height",
		Help: "current committed chain height",
	})
	return e, nil
}

// State returns the engine's current state
func (e *Engine) State() State {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.state
}

// Start runs the block production loop until Stop or context cancel
func (e *Engine) Start(ctx context.Context) error {
	e.mutex.Lock()
	if e.startedOnce {
		e.mutex.Unlock()
		return ErrAlreadyRunning
	}
	e.startedOnce = true
	e.mutex.Unlock()
	go func() {
		defer close(e.doneChan)
		ticker := time.NewTicker(e.config.BlockInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopChan:
				return
			case <-ticker.C:
				if _, err := e.ProduceBlock(); err != nil {
					if errors.Is(err, ErrNoTransactions) {
						continue
					}
					e.logger.Warn(
						"block production failed",
						"component", "consensus",
						"error", err,
					)
				}
			}
		}
	}()
	return nil
}

// Stop halts the production loop
func (e *Engine) Stop() error {
	select {
	case <-e.stopChan:
		// already stopped
	default:
		close(e.stopChan)
	}
	<-e.doneChan
	return nil
}

// ProduceBlock runs one full consensus round: collect, propose, validate,
// attest, commit. It returns the committed block. Rejection at any stage
// returns the round to collecting with the mempool intact.
func (e *Engine) ProduceBlock() (chain.Block, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	var ret chain.Block

	tip := e.config.Chain.Tip()
	height := tip.Height + 1

	// Collecting
	e.setState(height, StateCollecting)
	txs := e.config.Mempool.TransactionsForBlock(e.config.MaxBlockTxs)
	if len(txs) == 0 {
		return ret, ErrNoTransactions
	}
	if e.config.Selector != nil {
		selected, dropped := e.config.Selector.SelectBlockTxs(txs)
		for _, txId := range dropped {
			e.config.Mempool.RemoveTransaction(txId)
			e.logger.Warn(
				"dropped conflicting transaction from proposal",
				"component", "consensus",
				"tx_id", txId,
			)
		}
		txs = selected
		if len(txs) == 0 {
			return ret, ErrNoTransactions
		}
	}

	// Proposed: the highest-scored eligible validator outside its
	// cooldown window assembles the block
	candidates, err := e.config.Registry.SelectValidators()
	if err != nil {
		return ret, err
	}
	proposer, err := e.config.Registry.SelectProposer(candidates, height)
	if err != nil {
		return ret, err
	}
	block := chain.Block{
		Height:       height,
		PreviousHash: tip.Hash,
		ValidatorId:  proposer.ValidatorId,
		Timestamp:    time.Now().UTC(),
		Transactions: txs,
	}
	if err := block.Seal(); err != nil {
		return ret, err
	}
	e.setState(height, StateProposed)

	// Validating: gather stake-weighted attestations from the selected
	// set
	e.setState(height, StateValidating)
	if err := e.config.Chain.ValidateBlock(block); err != nil {
		e.reject(height, err.Error())
		return ret, err
	}
	var totalStake, attestedStake uint64
	attested := make(map[string]bool, len(candidates))
	for _, candidate := range candidates {
		totalStake += candidate.Stake
		approve := true
		if attester, ok := e.config.Attesters[candidate.ValidatorId]; ok {
			approve = attester.Attest(block)
		}
		attested[candidate.ValidatorId] = approve
		if approve {
			attestedStake += candidate.Stake
		}
	}
	if !validator.AttestationThresholdMet(attestedStake, totalStake) {
		err := fmt.Errorf(
			"%w: %d of %d stake attested",
			ErrInsufficientStake,
			attestedStake,
			totalStake,
		)
		e.reject(height, err.Error())
		return ret, err
	}

	// Commit: append the block, then settle bookkeeping. Minority
	// dissent is discarded, not retried.
	if err := e.config.Chain.AddBlock(block); err != nil {
		e.reject(height, err.Error())
		return ret, err
	}
	e.setState(height, StateCommitted)
	e.metrics.rounds.WithLabelValues("committed").Inc()
	e.metrics.height.Set(float64(height))
	for _, tx := range txs {
		e.config.Mempool.RemoveTransaction(tx.Id)
	}
	if err := e.config.Registry.MarkSelected(proposer.ValidatorId, height); err != nil {
		e.logger.Warn(
			"failed to record proposer selection",
			"component", "consensus",
			"validator_id", proposer.ValidatorId,
			"error", err,
		)
	}
	for validatorId, approve := range attested {
		if err := e.config.Registry.RecordValidation(validatorId, approve); err != nil {
			e.logger.Warn(
				"failed to record validation outcome",
				"component", "consensus",
				"validator_id", validatorId,
				"error", err,
			)
		}
	}
	e.logger.Info(
		"committed block",
		"component", "consensus",
		"height", height,
		"hash", block.Hash,
		"proposer", proposer.ValidatorId,
		"txs", len(txs),
	)
	if e.config.EventBus != nil {
		e.config.EventBus.Publish(
			BlockCommittedEventType,
			event.NewEvent(
				BlockCommittedEventType,
				BlockCommittedEvent{
					Height:      height,
					Hash:        block.Hash,
					ValidatorId: proposer.ValidatorId,
					Txs:         len(txs),
				},
			),
		)
	}
	// Ready for the next height
	e.setState(height+1, StateCollecting)
	return block, nil
}

func (e *Engine) reject(height uint64, reason string) {
	e.setState(height, StateRejected)
	e.metrics.rounds.WithLabelValues("rejected").Inc()
	e.logger.Warn(
		"proposal rejected",
		"component", "consensus",
		"height", height,
		"reason", reason,
	)
	if e.config.EventBus != nil {
		e.config.EventBus.Publish(
			ProposalRejectedEventType,
			event.NewEvent(
				ProposalRejectedEventType,
				ProposalRejectedEvent{
					Height: height,
					Reason: reason,
				},
			),
		)
	}
	// Rejection returns to collecting for the next attempt
	e.setState(height, StateCollecting)
}

func (e *Engine) setState(height uint64, newState State) {
	oldState := e.state
	if oldState == newState {
		return
	}
	e.state = newState
	if e.config.EventBus != nil {
		e.config.EventBus.Publish(
			StateChangeEventType,
			event.NewEvent(
				StateChangeEventType,
				StateChangeEvent{
					Height:   height,
					OldState: oldState,
					NewState: newState,
				},
			),
		)
	}
}
