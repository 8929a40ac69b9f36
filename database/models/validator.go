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

import "errors"

var ErrValidatorNotFound = errors.New("validator not found")

// Validator holds consensus stake and reputation for a participant. This is
// a separate namespace from token balances: reputation here derives from
// historical validation behavior, never from token holdings.
type Validator struct {
	ID                 uint   `gorm:"primarykey"`
	ValidatorId        string `gorm:"uniqueIndex;size:64;not null"`
	Region             string `gorm:"index;size:64"`
	Stake              uint64 `gorm:"not null;default:0"`
	ReputationScore    uint64 `gorm:"not null;default:0"`
	CorrectValidations uint64 `gorm:"not null;default:0"`
	FailedValidations  uint64 `gorm:"not null;default:0"`
	LastSelectedHeight uint64 `gorm:"index;not null;default:0"`
	Active             bool   `gorm:"default:true"`
}

func (Validator) TableName() string {
	return "validator"
}
