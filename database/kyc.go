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
	"gorm.io/gorm/clause"

	"github.com/tabnet-io/tabnet/database/models"
)

// KycRecordByIdentity retrieves the KYC record for an identity
func (d *Database) KycRecordByIdentity(
	identity string,
	txn *Txn,
) (*models.KycRecord, error) {
	var record models.KycRecord
	db := d.resolveMetadataDB(txn)
	if result := db.Where("identity = ?", identity).First(&record); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrKycRecordNotFound
		}
		return nil, result.Error
	}
	return &record, nil
}

// KycRecordUpsert creates or updates the KYC record for an identity
func (d *Database) KycRecordUpsert(
	record *models.KycRecord,
	txn *Txn,
) error {
	db := d.resolveMetadataDB(txn)
	onConflict := clause.OnConflict{
		Columns: []clause.Column{
			{Name: "identity"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"verified_at",
			"updated_at",
		}),
	}
	if result := db.Clauses(onConflict).Create(record); result.Error != nil {
		return result.Error
	}
	return nil
}

// KycRecordsByStatus retrieves all KYC records in the given status
func (d *Database) KycRecordsByStatus(
	status string,
	txn *Txn,
) ([]*models.KycRecord, error) {
	var records []*models.KycRecord
	db := d.resolveMetadataDB(txn)
	if result := db.Where("status = ?", status).Find(&records); result.Error != nil {
		return nil, result.Error
	}
	return records, nil
}
