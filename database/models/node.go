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

var ErrNodeNotFound = errors.New("node not found")

// Node kind determines the revenue split applied to sales processed at the
// node
const (
	NodeKindSelfOperated = "self_operated"
	NodeKindFranchise    = "franchise"
)

// Node is a franchise location. Nodes are created by the network operator
// and never deleted; inactive nodes stop accepting sales but keep their
// history.
type Node struct {
	ID                uint   `gorm:"primarykey"`
	NodeId            string `gorm:"uniqueIndex;size:64;not null"`
	OwnerIdentity     string `gorm:"index;size:64;not null"`
	Kind              string `gorm:"not null"`
	City              string `gorm:"index;size:128"`
	Region            string `gorm:"index;size:64"`
	Active            bool   `gorm:"default:true"`
	CumulativeSales   uint64 `gorm:"not null;default:0"`
	CumulativeRevenue uint64 `gorm:"not null;default:0"`
}

func (Node) TableName() string {
	return "node"
}
