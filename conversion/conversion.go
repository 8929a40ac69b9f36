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

// Package conversion runs pooled redistribution rounds: a configured
// fraction of reserved security token units is drained into utility token
// holders, proportional to a snapshot of their balances. Allocations to
// unverified identities are withheld until verification.
package conversion

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabnet-io/tabnet/consensus"
	"github.com/tabnet-io/tabnet/database"
	"github.com/tabnet-io/tabnet/database/models"
	"github.com/tabnet-io/tabnet/event"
	"github.com/tabnet-io/tabnet/kyc"
)

const (
	RoundCompletedEventType     event.EventType = "conversion.round_completed"
	AllocationReleasedEventType event.EventType = "conversion.allocation_released"
)

// RoundCompletedEvent is published when a conversion round finishes
type RoundCompletedEvent struct {
	RoundId   string
	PoolUnits uint64
	Holders   int
}

// AllocationReleasedEvent is published when a withheld allocation is
// disbursed after verification
type AllocationReleasedEvent struct {
	RoundId  string
	Identity string
	Units    uint64
}

// ComplianceGate answers KYC status queries at snapshot and release time
type ComplianceGate interface {
	Status(identity string) (kyc.Status, error)
}

// ManagerConfig holds configuration for the conversion manager
type ManagerConfig struct {
	Logger   *slog.Logger
	EventBus *event.EventBus
	Database *database.Database
	Gate     ComplianceGate
	// ReserveFractionPct is the percentage of the reserve drained per
	// round
	ReserveFractionPct uint64
	// RoundInterval triggers a scheduled round every N committed blocks.
	// Zero disables scheduled rounds.
	RoundInterval uint64
}

// Manager triggers and settles conversion rounds
type Manager struct {
	config ManagerConfig
	logger *slog.Logger
	mutex  sync.Mutex
	subIds []struct {
		eventType event.EventType
		id        event.EventSubscriberId
	}
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
	if m.config.ReserveFractionPct == 0 || m.config.ReserveFractionPct > 100 {
		m.config.ReserveFractionPct = 50
	}
	return m
}

// Start wires the manager to block commits (scheduled rounds) and KYC
// decisions (withheld allocation release)
func (m *Manager) Start() error {
	if m.config.EventBus == nil {
		return nil
	}
	subId := m.config.EventBus.SubscribeFunc(
		kyc.StatusChangeEventType,
		func(evt event.Event) {
			change, ok := evt.Data.(kyc.StatusChangeEvent)
			if !ok || change.NewStatus != kyc.StatusVerified {
				return
			}
			if _, err := m.ReleasePending(change.Identity); err != nil {
				m.logger.Error(
					"failed to release withheld allocations",
					"component", "conversion",
					"identity", change.Identity,
					"error", err,
				)
			}
		},
	)
	m.subIds = append(m.subIds, struct {
		eventType event.EventType
		id        event.EventSubscriberId
	}{kyc.StatusChangeEventType, subId})
	if m.config.RoundInterval > 0 {
		subId = m.config.EventBus.SubscribeFunc(
			consensus.BlockCommittedEventType,
			func(evt event.Event) {
				committed, ok := evt.Data.(consensus.BlockCommittedEvent)
				if !ok || committed.Height%m.config.RoundInterval != 0 {
					return
				}
				if _, err := m.TriggerRound("schedule", committed.Height); err != nil {
					m.logger.Error(
						"scheduled conversion round failed",
						"component", "conversion",
						"height", committed.Height,
						"error", err,
					)
				}
			},
		)
		m.subIds = append(m.subIds, struct {
			eventType event.EventType
			id        event.EventSubscriberId
		}{consensus.BlockCommittedEventType, subId})
	}
	return nil
}

// Stop detaches the manager from the event bus
func (m *Manager) Stop() error {
	for _, sub := range m.subIds {
		m.config.EventBus.Unsubscribe(sub.eventType, sub.id)
	}
	m.subIds = nil
	return nil
}

// TriggerRound runs one conversion round. The utility balance snapshot
// and the reserve debit happen in a single transaction, so accruals
// landing after the snapshot point are excluded without pausing them.
func (m *Manager) TriggerRound(
	triggeredBy string,
	height uint64,
) (*models.ConversionRound, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	now := time.Now()
	round := &models.ConversionRound{
		RoundId:       uuid.NewString(),
		Status:        models.ConversionRoundInProgress,
		TriggeredBy:   triggeredBy,
		TriggerHeight: height,
		StartedAt:     now,
	}
	holderCount := 0
	txn := database.NewTxn(m.config.Database, true)
	err := txn.Do(func(txn *database.Txn) error {
		reserved, err := m.config.Database.ReservedUnits(txn)
		if err != nil {
			return err
		}
		pool := reserved * m.config.ReserveFractionPct / 100
		snapshot, err := m.config.Database.UtilityBalances(txn)
		if err != nil {
			return err
		}
		var totalUt uint64
		for _, balance := range snapshot {
			totalUt += balance.Units
		}
		round.TotalPoolUnits = pool
		round.TotalUtSnapshot = totalUt
		if pool == 0 || totalUt == 0 {
			// Nothing to disburse; the round completes empty and the
			// reserve stays put
			round.TotalPoolUnits = 0
			round.Status = models.ConversionRoundCompleted
			round.CompletedAt = &now
			return m.config.Database.ConversionRoundCreate(round, txn)
		}
		allocations, err := m.allocate(round, snapshot, pool, totalUt, txn)
		if err != nil {
			return err
		}
		holderCount = len(allocations)
		if err := m.config.Database.ReservedUnitsSet(reserved-pool, txn); err != nil {
			return err
		}
		round.Status = models.ConversionRoundCompleted
		round.CompletedAt = &now
		if err := m.config.Database.ConversionRoundCreate(round, txn); err != nil {
			return err
		}
		return m.config.Database.ConversionAllocationsCreate(allocations, txn)
	})
	if err != nil {
		// The transaction rolled back; record the failure separately so
		// the round is auditable
		round.Status = models.ConversionRoundFailed
		round.FailureReason = err.Error()
		if createErr := m.config.Database.ConversionRoundCreate(round, nil); createErr != nil {
			m.logger.Error(
				"failed to record failed conversion round",
				"component", "conversion",
				"round_id", round.RoundId,
				"error", createErr,
			)
		}
		return nil, err
	}
	m.logger.Info(
		"conversion round completed",
		"component", "conversion",
		"round_id", round.RoundId,
		"pool_units", round.TotalPoolUnits,
		"ut_snapshot", round.TotalUtSnapshot,
	)
	if m.config.EventBus != nil {
		m.config.EventBus.Publish(
			RoundCompletedEventType,
			event.NewEvent(
				RoundCompletedEventType,
				RoundCompletedEvent{
					RoundId:   round.RoundId,
					PoolUnits: round.TotalPoolUnits,
					Holders:   holderCount,
				},
			),
		)
	}
	return round, nil
}

// allocate computes proportional integer allocations. The division
// remainder goes to the largest holder so the pool always disburses
// exactly; ties break toward the lowest address.
func (m *Manager) allocate(
	round *models.ConversionRound,
	snapshot []database.UtilityBalance,
	pool uint64,
	totalUt uint64,
	txn *database.Txn,
) ([]*models.ConversionAllocation, error) {
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Address < snapshot[j].Address
	})
	var allocated uint64
	largestIdx := -1
	allocations := make([]*models.ConversionAllocation, 0, len(snapshot))
	for i, balance := range snapshot {
		if balance.Units == 0 {
			continue
		}
		units := pool * balance.Units / totalUt
		allocated += units
		if largestIdx == -1 ||
			balance.Units > snapshot[largestIdx].Units {
			largestIdx = i
		}
		status, err := m.config.Gate.Status(balance.Address)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, &models.ConversionAllocation{
			RoundId:             round.RoundId,
			Identity:            balance.Address,
			AllocatedUnits:      units,
			SnapshotUnits:       balance.Units,
			KycStatusAtSnapshot: string(status),
			Status:              models.AllocationPendingKyc,
		})
	}
	// Assign the remainder to the largest holder
	if remainder := pool - allocated; remainder > 0 && largestIdx >= 0 {
		for _, allocation := range allocations {
			if allocation.Identity == snapshot[largestIdx].Address {
				allocation.AllocatedUnits += remainder
				break
			}
		}
	}
	// Disburse to verified identities immediately
	now := time.Now()
	for _, allocation := range allocations {
		if allocation.KycStatusAtSnapshot != string(kyc.StatusVerified) {
			continue
		}
		if err := m.disburse(allocation, now, txn); err != nil {
			return nil, err
		}
	}
	return allocations, nil
}

// disburse credits an allocation into the identity's security balance
func (m *Manager) disburse(
	allocation *models.ConversionAllocation,
	now time.Time,
	txn *database.Txn,
) error {
	balance, err := m.config.Database.SecurityBalanceByAddress(
		allocation.Identity,
		txn,
	)
	if err != nil {
		return err
	}
	balance.Address = allocation.Identity
	balance.Units += allocation.AllocatedUnits
	balance.TransferRestricted = false
	balance.DividendEligible = true
	balance.UpdatedAt = now
	if err := m.config.Database.SecurityBalanceSet(balance, txn); err != nil {
		return err
	}
	allocation.Status = models.AllocationDisbursed
	allocation.ReleasedAt = &now
	return nil
}

// ReleasePending disburses all withheld allocations for a newly verified
// identity
func (m *Manager) ReleasePending(identity string) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	status, err := m.config.Gate.Status(identity)
	if err != nil {
		return 0, err
	}
	if status != kyc.StatusVerified {
		return 0, fmt.Errorf("identity %s is %s, not verified", identity, status)
	}
	allocations, err := m.config.Database.ConversionAllocationsPendingKyc(
		identity,
		nil,
	)
	if err != nil {
		return 0, err
	}
	released := 0
	now := time.Now()
	for _, allocation := range allocations {
		txn := database.NewTxn(m.config.Database, true)
		err := txn.Do(func(txn *database.Txn) error {
			if err := m.disburse(allocation, now, txn); err != nil {
				return err
			}
			return m.config.Database.ConversionAllocationUpdate(allocation, txn)
		})
		if err != nil {
			return released, err
		}
		released++
		if m.config.EventBus != nil {
			m.config.EventBus.Publish(
				AllocationReleasedEventType,
				event.NewEvent(
					AllocationReleasedEventType,
					AllocationReleasedEvent{
						RoundId:  allocation.RoundId,
						Identity: identity,
						Units:    allocation.AllocatedUnits,
					},
				),
			)
		}
	}
	return released, nil
}

// Round returns a conversion round with its allocations
func (m *Manager) Round(
	roundId string,
) (*models.ConversionRound, []*models.ConversionAllocation, error) {
	round, err := m.config.Database.ConversionRoundByRoundId(roundId, nil)
	if err != nil {
		return nil, nil, err
	}
	allocations, err := m.config.Database.ConversionAllocationsByRound(
		roundId,
		nil,
	)
	if err != nil {
		return nil, nil, err
	}
	return round, allocations, nil
}
