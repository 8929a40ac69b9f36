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

import "time"

// EngagementAudit records engagement credits for audit purposes, including
// partial credits where the daily cap truncated the requested amount.
type EngagementAudit struct {
	ID                uint   `gorm:"primarykey"`
	Identity          string `gorm:"index;size:64;not null"`
	EventKind         string `gorm:"index;not null"`
	PlatformReference string `gorm:"size:256"`
	RequestedUnits    uint64 `gorm:"not null"`
	CreditedUnits     uint64 `gorm:"not null"`
	Partial           bool   `gorm:"index;default:false"`
	CreatedAt         time.Time
}

func (EngagementAudit) TableName() string {
	return "engagement_audit"
}
