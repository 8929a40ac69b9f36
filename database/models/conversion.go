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

package models

import (
	"errors"
	"time"
)

var ErrConversionRoundNotFound = errors.New("conversion round not found")

// ConversionRound lifecycle states
const (
	ConversionRoundPending    = "pending"
	ConversionRoundInProgress = "in_progress"
	ConversionRoundCompleted  = "completed"
	ConversionRoundFailed     = "failed"
)

// ConversionRound records one pooled redistribution of reserved security
// token units to utility token holders. The utility balance snapshot is
// frozen at round start; later accruals do not affect the round.
type ConversionRound struct {
	ID              uint   `gorm:"primarykey"`
	RoundId         string `gorm:"uniqueIndex;size:36;not null"`
	Status          string `gorm:"index;not null"`
	TriggeredBy     string `gorm:"size:64"`
	TriggerHeight   uint64 `gorm:"index"`
	TotalPoolUnits  uint64 `gorm:"not null;default:0"`
	TotalUtSnapshot uint64 `gorm:"not null;default:0"`
	StartedAt       time.Time
	CompletedAt     *time.Time
	FailureReason   string `gorm:"size:256"`
}

func (ConversionRound) TableName() string {
	return "conversion_round"
}

// Conversion allocation states
const (
	AllocationDisbursed  = "disbursed"
	AllocationPendingKyc = "allocated_pending_kyc"
)

// ConversionAllocation is one identity's share of a conversion round pool.
// Allocations to identities that were not verified at snapshot time are
// withheld until verification.
type ConversionAllocation struct {
	ID                  uint   `gorm:"primarykey"`
	RoundId             string `gorm:"uniqueIndex:idx_alloc_round_identity,priority:1;size:36;not null"`
	Identity            string `gorm:"uniqueIndex:idx_alloc_round_identity,priority:2;size:64;not null"`
	AllocatedUnits      uint64 `gorm:"not null"`
	SnapshotUnits       uint64 `gorm:"not null"`
	KycStatusAtSnapshot string `gorm:"not null"`
	Status              string `gorm:"index;not null"`
	ReleasedAt          *time.Time
}

func (ConversionAllocation) TableName() string {
	return "conversion_allocation"
}
