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

// ValidatorByValidatorId retrieves a validator by its ID
func (d *Database) ValidatorByValidatorId(
	validatorId string,
	txn *Txn,
) (*models.Validator, error) {
	var validator models.Validator
	db := d.resolveMetadataDB(txn)
	if result := db.Where("validator_id = ?", validatorId).First(&validator); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrValidatorNotFound
		}
		return nil, result.Error
	}
	return &validator, nil
}

// ValidatorUpsert creates or updates a validator record
func (d *Database) ValidatorUpsert(
	validator *models.Validator,
	txn *Txn,
) error {
	db := d.resolveMetadataDB(txn)
	onConflict := clause.OnConflict{
		Columns: []clause.Column{
			{Name: "validator_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"region",
			"stake",
			"reputation_score",
			"correct_validations",
			"failed_validations",
			"last_selected_height",
			"active",
		}),
	}
	if result := db.Clauses(onConflict).Create(validator); result.Error != nil {
		return result.Error
	}
	return nil
}

// Validators retrieves all validator records, optionally restricted to
// active ones
func (d *Database) Validators(
	activeOnly bool,
	txn *Txn,
) ([]*models.Validator, error) {
	var validators []*models.Validator
	db := d.resolveMetadataDB(txn)
	if activeOnly {
		db = db.Where("active = ?", true)
	}
	if result := db.Order("validator_id").Find(&validators); result.Error != nil {
		return nil, result.Error
	}
	return validators, nil
}
