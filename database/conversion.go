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

package database

import (
	"errors"

	"gorm.io/gorm"

	"github.com/tabnet-io/tabnet/database/models"
)

// ConversionRoundCreate stores a new conversion round
func (d *Database) ConversionRoundCreate(
	round *models.ConversionRound,
	txn *Txn,
) error {
	db := d.resolveMetadataDB(txn)
	if result := db.Create(round); result.Error != nil {
		return result.Error
	}
	return nil
}

// ConversionRoundUpdate saves changes to an existing round
func (d *Database) ConversionRoundUpdate(
	round *models.ConversionRound,
	txn *Txn,
) error {
	db := d.resolveMetadataDB(txn)
	if result := db.Save(round); result.Error != nil {
		return result.Error
	}
	return nil
}

// ConversionRoundByRoundId retrieves a round by its ID
func (d *Database) ConversionRoundByRoundId(
	roundId string,
	txn *Txn,
) (*models.ConversionRound, error) {
	var round models.ConversionRound
	db := d.resolveMetadataDB(txn)
	if result := db.Where("round_id = ?", roundId).First(&round); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrConversionRoundNotFound
		}
		return nil, result.Error
	}
	return &round, nil
}

// ConversionAllocationsCreate stores the allocations for a round in one
// batch
func (d *Database) ConversionAllocationsCreate(
	allocations []*models.ConversionAllocation,
	txn *Txn,
) error {
	if len(allocations) == 0 {
		return nil
	}
	db := d.resolveMetadataDB(txn)
	if result := db.Create(allocations); result.Error != nil {
		return result.Error
	}
	return nil
}

// ConversionAllocationUpdate saves changes to an existing allocation
func (d *Database) ConversionAllocationUpdate(
	allocation *models.ConversionAllocation,
	txn *Txn,
) error {
	db := d.resolveMetadataDB(txn)
	if result := db.Save(allocation); result.Error != nil {
		return result.Error
	}
	return nil
}

// ConversionAllocationsByRound retrieves all allocations for a round
func (d *Database) ConversionAllocationsByRound(
	roundId string,
	txn *Txn,
) ([]*models.ConversionAllocation, error) {
	var allocations []*models.ConversionAllocation
	db := d.resolveMetadataDB(txn)
	if result := db.Where("round_id = ?", roundId).Find(&allocations); result.Error != nil {
		return nil, result.Error
	}
	return allocations, nil
}

// ConversionAllocationsPendingKyc retrieves all withheld allocations for an
// identity across rounds
func (d *Database) ConversionAllocationsPendingKyc(
	identity string,
	txn *Txn,
) ([]*models.ConversionAllocation, error) {
	var allocations []*models.ConversionAllocation
	db := d.resolveMetadataDB(txn)
	if result := db.Where(
		"identity = ? AND status = ?",
		identity,
		models.AllocationPendingKyc,
	).Find(&allocations); result.Error != nil {
		return nil, result.Error
	}
	return allocations, nil
}

// EngagementAuditCreate records an engagement credit for audit
func (d *Database) EngagementAuditCreate(
	audit *models.EngagementAudit,
	txn *Txn,
) error {
	db := d.resolveMetadataDB(txn)
	if result := db.Create(audit); result.Error != nil {
		return result.Error
	}
	return nil
}
