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

package ledger

import "fmt"

// SplitConfig defines the mint distribution percentages for one node
// kind. Percentages must sum to exactly 100. The buyer share absorbs any
// integer-division remainder so a split always sums to the sale total.
type SplitConfig struct {
	OwnerPct    uint64 `yaml:"ownerPct"`
	OperatorPct uint64 `yaml:"operatorPct"`
	CharityPct  uint64 `yaml:"charityPct"`
	RoyaltyPct  uint64 `yaml:"royaltyPct"`
	BuyerPct    uint64 `yaml:"buyerPct"`
}

// Split is the computed unit distribution for one sale
type Split struct {
	TotalUnits    uint64
	OwnerUnits    uint64
	OperatorUnits uint64
	CharityUnits  uint64
	RoyaltyUnits  uint64
	BuyerUnits    uint64
}

// Validate checks that the percentages sum to exactly 100
func (c SplitConfig) Validate() error {
	sum := c.OwnerPct + c.OperatorPct + c.CharityPct + c.RoyaltyPct + c.BuyerPct
	if sum != 100 {
		return fmt.Errorf("split percentages sum to %d, want 100", sum)
	}
	return nil
}

// Compute derives the unit split for a sale amount. All arithmetic is
// integer; the remainder from percentage division goes to the buyer.
func (c SplitConfig) Compute(totalUnits uint64) Split {
	s := Split{
		TotalUnits:    totalUnits,
		OwnerUnits:    totalUnits * c.OwnerPct / 100,
		OperatorUnits: totalUnits * c.OperatorPct / 100,
		CharityUnits:  totalUnits * c.CharityPct / 100,
		RoyaltyUnits:  totalUnits * c.RoyaltyPct / 100,
	}
	s.BuyerUnits = totalUnits - s.OwnerUnits - s.OperatorUnits -
		s.CharityUnits - s.RoyaltyUnits
	return s
}
