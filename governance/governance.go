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

// Package governance manages proposals and utility-token-weighted voting.
// Voting power is snapshotted at proposal creation, so balance changes
// during the window cannot buy votes.
package governance

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabnet-io/tabnet/database"
	"github.com/tabnet-io/tabnet/database/models"
	"github.com/tabnet-io/tabnet/event"
	"github.com/tabnet-io/tabnet/ledger"
)

const (
	ProposalCreatedEventType event.EventType = "governance.proposal_created"
	VoteCastEventType        event.EventType = "governance.vote_cast"
	ProposalClosedEventType  event.EventType = "governance.proposal_closed"
)

// ProposalCreatedEvent is published when a proposal opens for voting
type ProposalCreatedEvent struct {
	ProposalId string
	Kind       string
	Proposer   string
}

// VoteCastEvent is published on every accepted vote
type VoteCastEvent struct {
	ProposalId string
	Voter      string
	Choice     string
	Power      uint64
}

// ProposalClosedEvent is published when a proposal's window closes and it
// resolves to passed or failed
type ProposalClosedEvent struct {
	ProposalId string
	Status     string
}

// Proposal kinds
const (
	KindParameterChange    = "parameter_change"
	KindTreasuryAllocation = "treasury_allocation"
	KindProtocolUpgrade    = "protocol_upgrade"
	KindEmergencyAction    = "emergency_action"
)

// Proposal statuses
const (
	StatusActive   = "active"
	StatusPassed   = "passed"
	StatusFailed   = "failed"
	StatusExecuted = "executed"
	StatusVetoed   = "vetoed"
)

// Vote choices
const (
	ChoiceYes     = "yes"
	ChoiceNo      = "no"
	ChoiceAbstain = "abstain"
)

var (
	ErrUnknownKind      = errors.New("unknown proposal kind")
	ErrVotingClosed     = errors.New("voting window is closed")
	ErrVotingOpen       = errors.New("voting window is still open")
	ErrAlreadyVoted     = errors.New("identity already voted on proposal")
	ErrNoVotingPower    = errors.New("identity held no utility tokens at proposal creation")
	ErrNotPassed        = errors.New("proposal has not passed")
	ErrExecutionDelayed = errors.New("execution delay has not elapsed")
	ErrVetoWindowClosed = errors.New("veto window has closed")
	ErrUnknownChoice    = errors.New("unknown vote choice")
)

// Result summarizes a proposal's outcome for callers
type Result struct {
	ProposalId     string
	Status         string
	YesPower       uint64
	NoPower        uint64
	AbstainPower   uint64
	SnapshotSupply uint64
	Votes          int
}

// ManagerConfig holds configuration for the governance manager
type ManagerConfig struct {
	Logger   *slog.Logger
	EventBus *event.EventBus
	Database *database.Database
	// Submitter anchors governance actions on chain. Optional.
	Submitter ledger.TxSubmitter
	// VotingWindow is how long proposals accept votes
	VotingWindow time.Duration
	// ExecutionDelay is the veto window between passing and execution
	ExecutionDelay time.Duration
	// QuorumPct is the participation threshold as a percentage of the
	// snapshot supply. Participation must strictly exceed it.
	QuorumPct uint64
}

// Manager runs the proposal lifecycle
type Manager struct {
	config ManagerConfig
	logger *slog.Logger
	mutex  sync.Mutex
}

func NewManager(config ManagerConfig) *Manager {
	m := &Manager{
		config: config,
		logger: config.Logger,
	}
	if m.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		m.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if m.config.VotingWindow <= 0 {
		m.config.VotingWindow = 72 * time.Hour
	}
	if m.config.ExecutionDelay <= 0 {
		m.config.ExecutionDelay = 24 * time.Hour
	}
	return m
}

// CreateProposal opens a proposal for voting and snapshots every utility
// token balance as voting power
func (m *Manager) CreateProposal(
	proposer string,
	kind string,
	title string,
	description string,
) (*models.GovernanceProposal, error) {
	switch kind {
	case KindParameterChange, KindTreasuryAllocation,
		KindProtocolUpgrade, KindEmergencyAction:
		// valid
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if proposer == "" || title == "" {
		return nil, errors.New("proposal requires proposer and title")
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	now := time.Now()
	proposal := &models.GovernanceProposal{
		ProposalId:     uuid.NewString(),
		Proposer:       proposer,
		Kind:           kind,
		Title:          title,
		Description:    description,
		Status:         StatusActive,
		VotingOpensAt:  now,
		VotingClosesAt: now.Add(m.config.VotingWindow),
	}
	txn := database.NewTxn(m.config.Database, true)
	err := txn.Do(func(txn *database.Txn) error {
		balances, err := m.config.Database.UtilityBalances(txn)
		if err != nil {
			return err
		}
		snapshot := make(map[string]uint64, len(balances))
		var supply uint64
		for _, balance := range balances {
			if balance.Units == 0 {
				continue
			}
			snapshot[balance.Address] = balance.Units
			supply += balance.Units
		}
		proposal.SnapshotSupply = supply
		if err := m.config.Database.GovernanceSnapshotSet(
			proposal.ProposalId,
			snapshot,
			txn,
		); err != nil {
			return err
		}
		return m.config.Database.GovernanceProposalCreate(proposal, txn)
	})
	if err != nil {
		return nil, err
	}
	m.submitAnchor(proposal.ProposalId, "proposal_created", proposer)
	m.logger.Info(
		"proposal created",
		"component", "governance",
		"proposal_id", proposal.ProposalId,
		"kind", kind,
		"snapshot_supply", proposal.SnapshotSupply,
	)
	if m.config.EventBus != nil {
		m.config.EventBus.Publish(
			ProposalCreatedEventType,
			event.NewEvent(
				ProposalCreatedEventType,
				ProposalCreatedEvent{
					ProposalId: proposal.ProposalId,
					Kind:       kind,
					Proposer:   proposer,
				},
			),
		)
	}
	return proposal, nil
}

// CastVote records a vote with the voter's snapshot power. Each identity
// votes at most once per proposal.
func (m *Manager) CastVote(
	proposalId string,
	voter string,
	choice string,
) error {
	switch choice {
	case ChoiceYes, ChoiceNo, ChoiceAbstain:
		// valid
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChoice, choice)
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	proposal, err := m.config.Database.GovernanceProposalByProposalId(
		proposalId,
		nil,
	)
	if err != nil {
		return err
	}
	now := time.Now()
	if proposal.Status != StatusActive || now.After(proposal.VotingClosesAt) {
		return ErrVotingClosed
	}
	snapshot, err := m.config.Database.GovernanceSnapshotByProposalId(
		proposalId,
		nil,
	)
	if err != nil {
		return err
	}
	power := snapshot[voter]
	if power == 0 {
		return fmt.Errorf("%w: %s", ErrNoVotingPower, voter)
	}
	vote := &models.GovernanceVote{
		ProposalId: proposalId,
		Voter:      voter,
		Choice:     choice,
		Power:      power,
		CastAt:     now,
	}
	txn := database.NewTxn(m.config.Database, true)
	err = txn.Do(func(txn *database.Txn) error {
		if err := m.config.Database.GovernanceVoteCreate(vote, txn); err != nil {
			return err
		}
		switch choice {
		case ChoiceYes:
			proposal.YesPower += power
		case ChoiceNo:
			proposal.NoPower += power
		case ChoiceAbstain:
			proposal.AbstainPower += power
		}
		return m.config.Database.GovernanceProposalUpdate(proposal, txn)
	})
	if err != nil {
		if errors.Is(err, database.ErrConflict) {
			return fmt.Errorf("%w: %s", ErrAlreadyVoted, voter)
		}
		return err
	}
	m.submitAnchor(proposalId, "vote_cast", voter)
	if m.config.EventBus != nil {
		m.config.EventBus.Publish(
			VoteCastEventType,
			event.NewEvent(
				VoteCastEventType,
				VoteCastEvent{
					ProposalId: proposalId,
					Voter:      voter,
					Choice:     choice,
					Power:      power,
				},
			),
		)
	}
	return nil
}

// Finalize resolves a proposal after its window closes. A proposal passes
// when yes-power strictly exceeds no-power and participation strictly
// exceeds the quorum threshold.
func (m *Manager) Finalize(proposalId string) (*models.GovernanceProposal, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	proposal, err := m.config.Database.GovernanceProposalByProposalId(
		proposalId,
		nil,
	)
	if err != nil {
		return nil, err
	}
	if proposal.Status != StatusActive {
		return proposal, nil
	}
	now := time.Now()
	if !now.After(proposal.VotingClosesAt) {
		return nil, ErrVotingOpen
	}
	participation := proposal.YesPower + proposal.NoPower + proposal.AbstainPower
	quorum := proposal.SnapshotSupply * m.config.QuorumPct / 100
	if proposal.YesPower > proposal.NoPower && participation > quorum {
		proposal.Status = StatusPassed
		proposal.ExecutableAfter = proposal.VotingClosesAt.Add(
			m.config.ExecutionDelay,
		)
	} else {
		proposal.Status = StatusFailed
	}
	if err := m.config.Database.GovernanceProposalUpdate(proposal, nil); err != nil {
		return nil, err
	}
	m.logger.Info(
		"proposal finalized",
		"component", "governance",
		"proposal_id", proposalId,
		"status", proposal.Status,
		"yes_power", proposal.YesPower,
		"no_power", proposal.NoPower,
	)
	if m.config.EventBus != nil {
		m.config.EventBus.Publish(
			ProposalClosedEventType,
			event.NewEvent(
				ProposalClosedEventType,
				ProposalClosedEvent{
					ProposalId: proposalId,
					Status:     proposal.Status,
				},
			),
		)
	}
	return proposal, nil
}

// Execute marks a passed proposal as executed once the delay window has
// elapsed without a veto
func (m *Manager) Execute(proposalId string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	proposal, err := m.config.Database.GovernanceProposalByProposalId(
		proposalId,
		nil,
	)
	if err != nil {
		return err
	}
	if proposal.Status != StatusPassed {
		return fmt.Errorf("%w: proposal is %s", ErrNotPassed, proposal.Status)
	}
	now := time.Now()
	if now.Before(proposal.ExecutableAfter) {
		return fmt.Errorf(
			"%w: executable after %s",
			ErrExecutionDelayed,
			proposal.ExecutableAfter.Format(time.RFC3339),
		)
	}
	proposal.Status = StatusExecuted
	proposal.ExecutedAt = &now
	return m.config.Database.GovernanceProposalUpdate(proposal, nil)
}

// Veto blocks a passed proposal during its execution delay window
func (m *Manager) Veto(proposalId string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	proposal, err := m.config.Database.GovernanceProposalByProposalId(
		proposalId,
		nil,
	)
	if err != nil {
		return err
	}
	if proposal.Status != StatusPassed {
		return fmt.Errorf("%w: proposal is %s", ErrNotPassed, proposal.Status)
	}
	now := time.Now()
	if now.After(proposal.ExecutableAfter) {
		return ErrVetoWindowClosed
	}
	proposal.Status = StatusVetoed
	proposal.VetoedAt = &now
	return m.config.Database.GovernanceProposalUpdate(proposal, nil)
}

// ProposalResult returns the current outcome of a proposal, finalizing it
// first if its window has closed
func (m *Manager) ProposalResult(proposalId string) (Result, error) {
	proposal, err := m.config.Database.GovernanceProposalByProposalId(
		proposalId,
		nil,
	)
	if err != nil {
		return Result{}, err
	}
	if proposal.Status == StatusActive &&
		time.Now().After(proposal.VotingClosesAt) {
		proposal, err = m.Finalize(proposalId)
		if err != nil {
			return Result{}, err
		}
	}
	votes, err := m.config.Database.GovernanceVotesByProposal(proposalId, nil)
	if err != nil {
		return Result{}, err
	}
	return Result{
		ProposalId:     proposal.ProposalId,
		Status:         proposal.Status,
		YesPower:       proposal.YesPower,
		NoPower:        proposal.NoPower,
		AbstainPower:   proposal.AbstainPower,
		SnapshotSupply: proposal.SnapshotSupply,
		Votes:          len(votes),
	}, nil
}

func (m *Manager) submitAnchor(proposalId string, action string, actor string) {
	if m.config.Submitter == nil {
		return
	}
	tx := ledger.Tx{
		Kind:      ledger.TxKindGovernance,
		Id:        "gov-" + uuid.NewString(),
		Timestamp: time.Now(),
		Governance: &ledger.GovernanceTx{
			ProposalId: proposalId,
			Action:     action,
			Actor:      actor,
		},
	}
	if err := m.config.Submitter.AddTransaction(tx); err != nil {
		m.logger.Warn(
			"governance transaction submission failed",
			"component", "governance",
			"proposal_id", proposalId,
			"error", err,
		)
	}
}
