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

// Package ledger implements the dual-token ledger: security token minting
// from sales, claim redemption, restricted transfers, and utility token
// accrual from engagement. All amounts are integer subunits; the ledger
// never applies a state change it cannot durably record.
package ledger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tabnet-io/tabnet/database"
	"github.com/tabnet-io/tabnet/database/models"
	"github.com/tabnet-io/tabnet/event"
	"github.com/tabnet-io/tabnet/kyc"
	"github.com/tabnet-io/tabnet/wallet"
)

const (
	SaleAcceptedEventType       event.EventType = "ledger.sale_accepted"
	SaleMintedEventType         event.EventType = "ledger.sale_minted"
	SaleClaimedEventType        event.EventType = "ledger.sale_claimed"
	SaleExpiredEventType        event.EventType = "ledger.sale_expired"
	TransferAppliedEventType    event.EventType = "ledger.transfer_applied"
	EngagementCreditedEventType event.EventType = "ledger.engagement_credited"
)

// SaleAcceptedEvent is published when a POS sale passes acceptance
type SaleAcceptedEvent struct {
	SaleId     string
	NodeId     string
	TotalUnits uint64
}

// SaleMintedEvent is published when a mint transaction commits in a block
type SaleMintedEvent struct {
	SaleId string
	Height uint64
}

// SaleClaimedEvent is published when a buyer redeems a claim
type SaleClaimedEvent struct {
	SaleId     string
	Identity   string
	Units      uint64
	Restricted bool
}

// SaleExpiredEvent is published when an unclaimed sale passes its expiry
type SaleExpiredEvent struct {
	SaleId string
}

// TransferAppliedEvent is published when a transfer commits
type TransferAppliedEvent struct {
	From  string
	To    string
	Units uint64
}

// EngagementCreditedEvent is published on every engagement credit,
// including partial ones truncated by the daily cap
type EngagementCreditedEvent struct {
	Identity  string
	EventKind string
	Requested uint64
	Credited  uint64
	Partial   bool
}

// TxSubmitter accepts transactions for consensus ordering. The mempool
// implements this.
type TxSubmitter interface {
	AddTransaction(tx Tx) error
}

// ComplianceGate answers synchronous KYC status queries. The ledger never
// drives verification itself.
type ComplianceGate interface {
	IsVerified(identity string) (bool, error)
}

// ClaimToken is returned to the relay on sale acceptance. ActivationCode
// is only ever surfaced here; the ledger stores its hash. Duplicate marks
// an idempotent resubmission, for which no fresh code exists.
type ClaimToken struct {
	SaleId         string
	ClaimAddress   string
	ActivationCode string
	ExpiresAt      time.Time
	Duplicate      bool
}

// ClaimResult describes a successful claim redemption
type ClaimResult struct {
	SaleId             string
	Units              uint64
	TransferRestricted bool
}

// CreditResult describes the outcome of an engagement credit
type CreditResult struct {
	Requested uint64
	Credited  uint64
	Partial   bool
}

// LedgerConfig holds configuration for the ledger
type LedgerConfig struct {
	Logger       *slog.Logger
	EventBus     *event.EventBus
	Database     *database.Database
	PromRegistry prometheus.Registerer
	Gate         ComplianceGate
	Submitter    TxSubmitter
	// Mint splits per node kind. Each must sum to 100.
	SelfOperatedSplit SplitConfig
	FranchiseSplit    SplitConfig
	// Network-level payout addresses
	OperatorAddress string
	CharityAddress  string
	RoyaltyAddress  string
	// ClaimValidity is how long a claim token stays redeemable
	ClaimValidity time.Duration
	// DailyUtilityCap bounds utility token credits per identity per UTC
	// day. Zero means uncapped.
	DailyUtilityCap uint64
	// EngagementRates maps event kinds to units credited per unit quantity
	EngagementRates map[string]uint64
}

type ledgerMetrics struct {
	salesAccepted     prometheus.Counter
	claims            *prometheus.CounterVec
	transfersApplied  prometheus.Counter
	engagementCredits prometheus.Counter
	engagementPartial prometheus.Counter
	reservedUnits     prometheus.Gauge
}

// Ledger coordinates all token state changes
type Ledger struct {
	config  LedgerConfig
	logger  *slog.Logger
	locks   *addressLocks
	metrics ledgerMetrics
	subIds  []struct {
		eventType event.EventType
		id        event.EventSubscriberId
	}
}

func New(config LedgerConfig) (*Ledger, error) {
	if config.Database == nil {
		return nil, errors.New("no database provided")
	}
	if err := config.SelfOperatedSplit.Validate(); err != nil {
		return nil, fmt.Errorf("self-operated split: %w", err)
	}
	if err := config.FranchiseSplit.Validate(); err != nil {
		return nil, fmt.Errorf("franchise split: %w", err)
	}
	l := &Ledger{
		config: config,
		logger: config.Logger,
		locks:  newAddressLocks(),
	}
	if l.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		l.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	promRegistry := config.PromRegistry
	if promRegistry == nil {
		promRegistry = prometheus.NewRegistry()
	}
	l.metrics.salesAccepted = promauto.With(promRegistry).NewCounter(
		prometheus.CounterOpts{
			Name: "tabnet_ledger_sales_accepted_total",
			Help: "total sales accepted for minting",
		},
	)
	l.metrics.claims = promauto.With(promRegistry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabnet_ledger_claims_total",
			Help: "claim attempts by result",
		},
		[]string{"result"},
	)
	l.metrics.transfersApplied = promauto.With(promRegistry).NewCounter(
		prometheus.CounterOpts{
			Name: "tabnet_ledger_transfers_applied_total",
			Help: "security token transfers applied",
		},
	)
	l.metrics.engagementCredits = promauto.With(promRegistry).NewCounter(
		prometheus.CounterOpts{
			Name: "tabnet_ledger_engagement_credits_total",
			Help: "engagement events credited",
		},
	)
	l.metrics.engagementPartial = promauto.With(promRegistry).NewCounter(
		prometheus.CounterOpts{
			Name: "tabnet_ledger_engagement_partial_total",
			Help: "engagement credits truncated by the daily cap",
		},
	)
	l.metrics.reservedUnits = promauto.With(promRegistry).NewGauge(
		prometheus.GaugeOpts{
			Name: "tabnet_ledger_reserved_units",
			Help: "security token units reserved for unclaimed sales",
		},
	)
	return l, nil
}

// SetSubmitter wires the transaction submitter after construction. The
// mempool validates through the ledger, so the two are built in sequence.
func (l *Ledger) SetSubmitter(submitter TxSubmitter) {
	l.config.Submitter = submitter
}

// Start wires the ledger to KYC decisions. The stored transfer
// restriction flag is stamped at claim time, so a balance claimed while
// pending must be unlocked when the identity verifies.
func (l *Ledger) Start() error {
	if l.config.EventBus == nil {
		return nil
	}
	subId := l.config.EventBus.SubscribeFunc(
		kyc.StatusChangeEventType,
		func(evt event.Event) {
			change, ok := evt.Data.(kyc.StatusChangeEvent)
			if !ok || change.NewStatus != kyc.StatusVerified {
				return
			}
			if err := l.LiftRestriction(change.Identity); err != nil {
				l.logger.Error(
					"failed to lift transfer restriction",
					"component", "ledger",
					"identity", change.Identity,
					"error", err,
				)
			}
		},
	)
	l.subIds = append(l.subIds, struct {
		eventType event.EventType
		id        event.EventSubscriberId
	}{kyc.StatusChangeEventType, subId})
	return nil
}

// Stop detaches the ledger from the event bus
func (l *Ledger) Stop() error {
	for _, sub := range l.subIds {
		l.config.EventBus.Unsubscribe(sub.eventType, sub.id)
	}
	l.subIds = nil
	return nil
}

// RegisterNode adds a point-of-sale node to the network. Nodes are never
// deleted, only deactivated.
func (l *Ledger) RegisterNode(
	nodeId string,
	ownerIdentity string,
	kind string,
	city string,
	region string,
) error {
	if nodeId == "" || ownerIdentity == "" {
		return fmt.Errorf("%w: missing node id or owner", ErrInvalidAmount)
	}
	if kind != models.NodeKindSelfOperated && kind != models.NodeKindFranchise {
		return fmt.Errorf("unknown node kind %q", kind)
	}
	node := &models.Node{
		NodeId:        nodeId,
		OwnerIdentity: ownerIdentity,
		Kind:          kind,
		City:          city,
		Region:        region,
		Active:        true,
	}
	if err := l.config.Database.NodeCreate(node, nil); err != nil {
		return err
	}
	l.logger.Info(
		"node registered",
		"component", "ledger",
		"node_id", nodeId,
		"kind", kind,
	)
	return nil
}

// DeactivateNode removes a node from sale acceptance without deleting it
func (l *Ledger) DeactivateNode(nodeId string) error {
	node, err := l.config.Database.NodeByNodeId(nodeId, nil)
	if err != nil {
		return err
	}
	node.Active = false
	return l.config.Database.NodeUpdate(node, nil)
}

// AcceptSale processes a POS sale submission. Acceptance is a
// compare-and-insert on sale id, so retried submissions return the
// original claim address as a duplicate instead of erroring. One subunit
// of sale amount mints one token unit.
func (l *Ledger) AcceptSale(
	saleId string,
	nodeId string,
	amountSubunits uint64,
	buyerReference string,
) (ClaimToken, error) {
	var ret ClaimToken
	if saleId == "" {
		return ret, fmt.Errorf("%w: empty sale id", ErrInvalidAmount)
	}
	if amountSubunits == 0 {
		return ret, ErrInvalidAmount
	}
	node, err := l.config.Database.NodeByNodeId(nodeId, nil)
	if err != nil {
		if errors.Is(err, models.ErrNodeNotFound) {
			return ret, fmt.Errorf("%w: %s", ErrUnknownNode, nodeId)
		}
		return ret, err
	}
	if !node.Active {
		return ret, fmt.Errorf("%w: %s", ErrNodeInactive, nodeId)
	}
	var split Split
	switch node.Kind {
	case models.NodeKindSelfOperated:
		split = l.config.SelfOperatedSplit.Compute(amountSubunits)
	case models.NodeKindFranchise:
		split = l.config.FranchiseSplit.Compute(amountSubunits)
	default:
		return ret, fmt.Errorf("unknown node kind %q", node.Kind)
	}
	claimAddress, activationCode, err := wallet.GenerateClaimAddress(saleId)
	if err != nil {
		return ret, err
	}
	now := time.Now()
	sale := database.Sale{
		SaleId:         saleId,
		NodeId:         nodeId,
		BuyerReference: buyerReference,
		ClaimAddress:   string(claimAddress),
		ClaimCodeHash:  wallet.HashActivationCode(activationCode),
		Status:         database.SaleStatusPending,
		AmountSubunits: amountSubunits,
		TotalUnits:     split.TotalUnits,
		OwnerUnits:     split.OwnerUnits,
		OperatorUnits:  split.OperatorUnits,
		BuyerUnits:     split.BuyerUnits,
		CharityUnits:   split.CharityUnits,
		RoyaltyUnits:   split.RoyaltyUnits,
		CreatedAt:      now,
		ExpiresAt:      now.Add(l.config.ClaimValidity),
	}
	txn := database.NewTxn(l.config.Database, true)
	err = txn.Do(func(txn *database.Txn) error {
		if err := l.config.Database.SaleCreate(sale, txn); err != nil {
			return err
		}
		node.CumulativeSales++
		node.CumulativeRevenue += amountSubunits
		return l.config.Database.NodeUpdate(node, txn)
	})
	if err != nil {
		if errors.Is(err, database.ErrConflict) {
			// Idempotent resubmission: hand back the original claim
			// address. The activation code cannot be regenerated.
			existing, lookupErr := l.config.Database.SaleBySaleId(saleId, nil)
			if lookupErr != nil {
				return ret, lookupErr
			}
			return ClaimToken{
				SaleId:       saleId,
				ClaimAddress: existing.ClaimAddress,
				ExpiresAt:    existing.ExpiresAt,
				Duplicate:    true,
			}, nil
		}
		return ret, err
	}
	if l.config.Submitter != nil {
		mintTx := Tx{
			Kind:      TxKindMint,
			Id:        saleId,
			Timestamp: now,
			Mint: &MintTx{
				SaleId:          saleId,
				NodeId:          nodeId,
				TotalUnits:      split.TotalUnits,
				OwnerUnits:      split.OwnerUnits,
				OperatorUnits:   split.OperatorUnits,
				BuyerUnits:      split.BuyerUnits,
				CharityUnits:    split.CharityUnits,
				RoyaltyUnits:    split.RoyaltyUnits,
				OwnerAddress:    node.OwnerIdentity,
				OperatorAddress: l.config.OperatorAddress,
				CharityAddress:  l.config.CharityAddress,
				RoyaltyAddress:  l.config.RoyaltyAddress,
				ClaimAddress:    sale.ClaimAddress,
			},
		}
		if err := l.config.Submitter.AddTransaction(mintTx); err != nil {
			return ret, fmt.Errorf("submit mint transaction: %w", err)
		}
	}
	l.metrics.salesAccepted.Inc()
	l.logger.Info(
		"sale accepted",
		"component", "ledger",
		"sale_id", saleId,
		"node_id", nodeId,
		"total_units", split.TotalUnits,
	)
	if l.config.EventBus != nil {
		l.config.EventBus.Publish(
			SaleAcceptedEventType,
			event.NewEvent(
				SaleAcceptedEventType,
				SaleAcceptedEvent{
					SaleId:     saleId,
					NodeId:     nodeId,
					TotalUnits: split.TotalUnits,
				},
			),
		)
	}
	return ClaimToken{
		SaleId:         saleId,
		ClaimAddress:   sale.ClaimAddress,
		ActivationCode: activationCode,
		ExpiresAt:      sale.ExpiresAt,
	}, nil
}

// Claim redeems a claim token into an identity's security token balance.
// Redemption is compare-and-swap on sale status, so concurrent attempts
// against the same code yield exactly one success.
func (l *Ledger) Claim(
	claimAddress string,
	activationCode string,
	identity string,
) (ClaimResult, error) {
	var ret ClaimResult
	if identity == "" {
		return ret, fmt.Errorf("%w: empty identity", ErrInvalidAmount)
	}
	sale, err := l.config.Database.SaleByClaimAddress(claimAddress, nil)
	if err != nil {
		if errors.Is(err, database.ErrKeyNotFound) {
			l.metrics.claims.WithLabelValues("not_found").Inc()
			return ret, ErrClaimNotFound
		}
		return ret, err
	}
	if wallet.HashActivationCode(activationCode) != sale.ClaimCodeHash {
		l.metrics.claims.WithLabelValues("invalid_code").Inc()
		return ret, ErrInvalidCode
	}
	unlock := l.locks.lock(identity)
	defer unlock()
	txn := database.NewTxn(l.config.Database, true)
	var restricted bool
	err = txn.Do(func(txn *database.Txn) error {
		current, err := l.config.Database.SaleBySaleId(sale.SaleId, txn)
		if err != nil {
			return err
		}
		switch current.Status {
		case database.SaleStatusClaimed:
			return ErrAlreadyClaimed
		case database.SaleStatusPending:
			return ErrClaimPending
		case database.SaleStatusExpired:
			return ErrClaimExpired
		case database.SaleStatusMinted:
			// fall through to redemption
		default:
			return fmt.Errorf("unknown sale status %q", current.Status)
		}
		now := time.Now()
		if now.After(current.ExpiresAt) {
			current.Status = database.SaleStatusExpired
			if err := l.config.Database.SaleUpdate(current, txn); err != nil {
				return err
			}
			// The reserved buyer share stays in the pool for conversion
			return ErrClaimExpired
		}
		verified, err := l.config.Gate.IsVerified(identity)
		if err != nil {
			return err
		}
		balance, err := l.config.Database.SecurityBalanceByAddress(identity, txn)
		if err != nil {
			return err
		}
		balance.Address = identity
		balance.Units += current.BuyerUnits
		balance.TransferRestricted = !verified
		balance.DividendEligible = verified
		balance.UpdatedAt = now
		if err := l.config.Database.SecurityBalanceSet(balance, txn); err != nil {
			return err
		}
		reserved, err := l.config.Database.ReservedUnits(txn)
		if err != nil {
			return err
		}
		if reserved < current.BuyerUnits {
			return fmt.Errorf(
				"reserved units underflow: %d < %d",
				reserved,
				current.BuyerUnits,
			)
		}
		if err := l.config.Database.ReservedUnitsSet(
			reserved-current.BuyerUnits,
			txn,
		); err != nil {
			return err
		}
		current.Status = database.SaleStatusClaimed
		current.ClaimedBy = identity
		current.ClaimedAt = now
		if err := l.config.Database.SaleUpdate(current, txn); err != nil {
			return err
		}
		restricted = !verified
		ret = ClaimResult{
			SaleId:             current.SaleId,
			Units:              current.BuyerUnits,
			TransferRestricted: restricted,
		}
		l.metrics.reservedUnits.Set(float64(reserved - current.BuyerUnits))
		return nil
	})
	if err != nil {
		if errors.Is(err, database.ErrConflict) {
			// Lost the swap race, another claim committed first
			l.metrics.claims.WithLabelValues("already_claimed").Inc()
			return ClaimResult{}, ErrAlreadyClaimed
		}
		switch {
		case errors.Is(err, ErrAlreadyClaimed):
			l.metrics.claims.WithLabelValues("already_claimed").Inc()
		case errors.Is(err, ErrClaimExpired):
			l.metrics.claims.WithLabelValues("expired").Inc()
			l.publishSaleExpired(sale.SaleId)
		case errors.Is(err, ErrClaimPending):
			l.metrics.claims.WithLabelValues("pending").Inc()
		}
		return ClaimResult{}, err
	}
	l.metrics.claims.WithLabelValues("claimed").Inc()
	l.logger.Info(
		"sale claimed",
		"component", "ledger",
		"sale_id", ret.SaleId,
		"identity", identity,
		"units", ret.Units,
	)
	if l.config.EventBus != nil {
		l.config.EventBus.Publish(
			SaleClaimedEventType,
			event.NewEvent(
				SaleClaimedEventType,
				SaleClaimedEvent{
					SaleId:     ret.SaleId,
					Identity:   identity,
					Units:      ret.Units,
					Restricted: restricted,
				},
			),
		)
	}
	return ret, nil
}

// Transfer validates a security token transfer and submits it for
// consensus ordering. The balance movement happens when the containing
// block commits.
func (l *Ledger) Transfer(from string, to string, units uint64) (string, error) {
	tx := Tx{
		Kind:      TxKindTransfer,
		Id:        "tr-" + uuid.NewString(),
		Timestamp: time.Now(),
		Transfer: &TransferTx{
			From:  from,
			To:    to,
			Units: units,
		},
	}
	if err := tx.WellFormed(); err != nil {
		return "", err
	}
	if err := l.checkTransfer(tx.Transfer, nil); err != nil {
		return "", err
	}
	if l.config.Submitter == nil {
		return "", errors.New("no transaction submitter configured")
	}
	if err := l.config.Submitter.AddTransaction(tx); err != nil {
		return "", err
	}
	return tx.Id, nil
}

// CreditEngagement credits utility token units for an engagement event.
// Credits exceeding the daily cap are silently truncated to the remaining
// headroom and recorded as partial for audit. Utility tokens are
// non-transferable; this is their only mint path.
func (l *Ledger) CreditEngagement(
	identity string,
	eventKind string,
	quantity uint64,
	platformReference string,
) (CreditResult, error) {
	var ret CreditResult
	if identity == "" {
		return ret, fmt.Errorf("%w: empty identity", ErrInvalidAmount)
	}
	rate, ok := l.config.EngagementRates[eventKind]
	if !ok {
		return ret, fmt.Errorf("unknown engagement kind %q", eventKind)
	}
	requested := rate * quantity
	unlock := l.locks.lock(identity)
	defer unlock()
	now := time.Now()
	txn := database.NewTxn(l.config.Database, true)
	err := txn.Do(func(txn *database.Txn) error {
		balance, err := l.config.Database.UtilityBalanceByAddress(identity, txn)
		if err != nil {
			return err
		}
		dayStart := now.UTC().Truncate(24 * time.Hour)
		if !balance.DayStart.Equal(dayStart) {
			balance.DayStart = dayStart
			balance.DayCredited = 0
		}
		credited := requested
		if l.config.DailyUtilityCap > 0 {
			headroom := uint64(0)
			if balance.DayCredited < l.config.DailyUtilityCap {
				headroom = l.config.DailyUtilityCap - balance.DayCredited
			}
			if credited > headroom {
				credited = headroom
			}
		}
		balance.Address = identity
		balance.Units += credited
		balance.Seq++
		balance.DayCredited += credited
		balance.LastUpdated = now
		if err := l.config.Database.UtilityBalanceSet(balance, txn); err != nil {
			return err
		}
		partial := credited < requested
		audit := &models.EngagementAudit{
			Identity:          identity,
			EventKind:         eventKind,
			PlatformReference: platformReference,
			RequestedUnits:    requested,
			CreditedUnits:     credited,
			Partial:           partial,
			CreatedAt:         now,
		}
		if err := l.config.Database.EngagementAuditCreate(audit, txn); err != nil {
			return err
		}
		ret = CreditResult{
			Requested: requested,
			Credited:  credited,
			Partial:   partial,
		}
		return nil
	})
	if err != nil {
		return CreditResult{}, err
	}
	if l.config.Submitter != nil && ret.Credited > 0 {
		// The on-chain entry anchors the credit for audit; balances were
		// already updated above
		engagementTx := Tx{
			Kind:      TxKindEngagement,
			Id:        "en-" + uuid.NewString(),
			Timestamp: now,
			Engagement: &EngagementTx{
				Identity:          identity,
				EventKind:         eventKind,
				Units:             ret.Credited,
				PlatformReference: platformReference,
			},
		}
		if err := l.config.Submitter.AddTransaction(engagementTx); err != nil {
			l.logger.Warn(
				"engagement transaction submission failed",
				"component", "ledger",
				"identity", identity,
				"error", err,
			)
		}
	}
	l.metrics.engagementCredits.Inc()
	if ret.Partial {
		l.metrics.engagementPartial.Inc()
	}
	if l.config.EventBus != nil {
		l.config.EventBus.Publish(
			EngagementCreditedEventType,
			event.NewEvent(
				EngagementCreditedEventType,
				EngagementCreditedEvent{
					Identity:  identity,
					EventKind: eventKind,
					Requested: ret.Requested,
					Credited:  ret.Credited,
					Partial:   ret.Partial,
				},
			),
		)
	}
	return ret, nil
}

// LiftRestriction unlocks an identity's security balance after KYC
// verification
func (l *Ledger) LiftRestriction(identity string) error {
	unlock := l.locks.lock(identity)
	defer unlock()
	txn := database.NewTxn(l.config.Database, true)
	return txn.Do(func(txn *database.Txn) error {
		balance, err := l.config.Database.SecurityBalanceByAddress(identity, txn)
		if err != nil {
			return err
		}
		balance.Address = identity
		balance.TransferRestricted = false
		balance.DividendEligible = true
		balance.UpdatedAt = time.Now()
		return l.config.Database.SecurityBalanceSet(balance, txn)
	})
}

// ExpireStaleSales sweeps pending and minted sales past their expiry.
// Reserved units from expired minted sales stay in the reserve, where the
// next conversion round picks them up.
func (l *Ledger) ExpireStaleSales() (int, error) {
	expired := 0
	now := time.Now()
	for _, status := range []database.SaleStatus{
		database.SaleStatusPending,
		database.SaleStatusMinted,
	} {
		sales, err := l.config.Database.SalesByStatus(status, nil)
		if err != nil {
			return expired, err
		}
		for _, sale := range sales {
			if !now.After(sale.ExpiresAt) {
				continue
			}
			sale.Status = database.SaleStatusExpired
			if err := l.config.Database.SaleUpdate(sale, nil); err != nil {
				return expired, err
			}
			expired++
			l.publishSaleExpired(sale.SaleId)
		}
	}
	if expired > 0 {
		l.logger.Info(
			"expired stale sales",
			"component", "ledger",
			"count", expired,
		)
	}
	return expired, nil
}

// SecurityBalance returns the security token balance for an identity
func (l *Ledger) SecurityBalance(identity string) (database.SecurityBalance, error) {
	return l.config.Database.SecurityBalanceByAddress(identity, nil)
}

// UtilityBalance returns the utility token balance for an identity
func (l *Ledger) UtilityBalance(identity string) (database.UtilityBalance, error) {
	return l.config.Database.UtilityBalanceByAddress(identity, nil)
}

// ReservedUnits returns the security token units reserved against
// unclaimed sales
func (l *Ledger) ReservedUnits() (uint64, error) {
	return l.config.Database.ReservedUnits(nil)
}

func (l *Ledger) publishSaleExpired(saleId string) {
	if l.config.EventBus == nil {
		return
	}
	l.config.EventBus.Publish(
		SaleExpiredEventType,
		event.NewEvent(
			SaleExpiredEventType,
			SaleExpiredEvent{SaleId: saleId},
		),
	)
}
