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

var ErrKycRecordNotFound = errors.New("kyc record not found")

// KycRecord tracks the verification state for a single identity. One record
// exists per identity; status transitions are enforced by the KYC gate, not
// here.
type KycRecord struct {
	ID         uint   `gorm:"primarykey"`
	Identity   string `gorm:"uniqueIndex;size:64;not null"`
	Status     string `gorm:"index;not null"`
	VerifiedAt *time.Time
	UpdatedAt  time.Time
}

func (KycRecord) TableName() string {
	return "kyc_record"
}
