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

// Package kyc tracks per-identity verification state. Verification
// decisions arrive from an external collaborator; this package only
// enforces which transitions are legal and answers synchronous status
// queries from the ledger.
package kyc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tabnet-io/tabnet/database"
	"github.com/tabnet-io/tabnet/database/models"
	"github.com/tabnet-io/tabnet/event"
)

const (
	StatusChangeEventType event.EventType = "kyc.status_change"
)

// StatusChangeEvent is published on every accepted transition
type StatusChangeEvent struct {
	Identity  string
	OldStatus Status
	NewStatus Status
}

var ErrInvalidTransition = errors.New("invalid kyc status transition")

// Status is the verification state of an identity
type Status string

const (
	StatusNotRequired Status = "not_required"
	StatusPending     Status = "pending"
	StatusVerified    Status = "verified"
	StatusRejected    Status = "rejected"
	StatusExpired     Status = "expired"
)

// legalTransitions lists the allowed next states for each status.
// Rejected and Expired identities may re-enter Pending on resubmission;
// everything else is locked down.
var legalTransitions = map[Status][]Status{
	StatusNotRequired: {StatusPending},
	StatusPending:     {StatusVerified, StatusRejected},
	StatusVerified:    {StatusExpired},
	StatusRejected:    {StatusPending},
	StatusExpired:     {StatusPending},
}

// GateConfig holds configuration for the compliance gate
type GateConfig struct {
	Logger   *slog.Logger
	EventBus *event.EventBus
	Database *database.Database
	// ValidityWindow is how long a verification remains valid before it
	// expires. Zero disables expiry.
	ValidityWindow time.Duration
}

// Gate enforces the KYC state machine and serves synchronous status reads
type Gate struct {
	config GateConfig
	logger *slog.Logger
	mutex  sync.Mutex
}

func NewGate(config GateConfig) *Gate {
	g := &Gate{
		config: config,
		logger: config.Logger,
	}
	if g.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		g.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return g
}

// Status returns the current verification state for an identity. Unknown
// identities are NotRequired.
func (g *Gate) Status(identity string) (Status, error) {
	record, err := g.config.Database.KycRecordByIdentity(identity, nil)
	if err != nil {
		if errors.Is(err, models.ErrKycRecordNotFound) {
			return StatusNotRequired, nil
		}
		return "", err
	}
	return Status(record.Status), nil
}

// IsVerified reports whether the identity is currently verified
func (g *Gate) IsVerified(identity string) (bool, error) {
	status, err := g.Status(identity)
	if err != nil {
		return false, err
	}
	return status == StatusVerified, nil
}

// SetStatus applies an externally-driven verification decision. Illegal
// transitions fail with ErrInvalidTransition and leave state untouched.
func (g *Gate) SetStatus(identity string, newStatus Status) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	oldStatus, err := g.Status(identity)
	if err != nil {
		return err
	}
	if oldStatus == newStatus {
		// Repeated decision, nothing to do
		return nil
	}
	if !transitionLegal(oldStatus, newStatus) {
		return fmt.Errorf(
			"%w: %s -> %s for identity %s",
			ErrInvalidTransition,
			oldStatus,
			newStatus,
			identity,
		)
	}
	now := time.Now()
	record := &models.KycRecord{
		Identity:  identity,
		Status:    string(newStatus),
		UpdatedAt: now,
	}
	if newStatus == StatusVerified {
		record.VerifiedAt = &now
	}
	if err := g.config.Database.KycRecordUpsert(record, nil); err != nil {
		return err
	}
	g.logger.Info(
		"kyc status changed",
		"component", "kyc",
		"identity", identity,
		"old_status", oldStatus,
		"new_status", newStatus,
	)
	if g.config.EventBus != nil {
		g.config.EventBus.Publish(
			StatusChangeEventType,
			event.NewEvent(
				StatusChangeEventType,
				StatusChangeEvent{
					Identity:  identity,
					OldStatus: oldStatus,
					NewStatus: newStatus,
				},
			),
		)
	}
	return nil
}

// ExpireStale transitions verifications older than the validity window to
// Expired. Returns the number of identities expired.
func (g *Gate) ExpireStale() (int, error) {
	if g.config.ValidityWindow == 0 {
		return 0, nil
	}
	records, err := g.config.Database.KycRecordsByStatus(
		string(StatusVerified),
		nil,
	)
	if err != nil {
		return 0, err
	}
	expired := 0
	cutoff := time.Now().Add(-g.config.ValidityWindow)
	for _, record := range records {
		if record.VerifiedAt == nil || record.VerifiedAt.After(cutoff) {
			continue
		}
		if err := g.SetStatus(record.Identity, StatusExpired); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func transitionLegal(from Status, to Status) bool {
	for _, legal := range legalTransitions[from] {
		if legal == to {
			return true
		}
	}
	return false
}
