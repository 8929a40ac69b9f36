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

var (
	ErrGovernanceProposalNotFound = errors.New("governance proposal not found")
	ErrGovernanceVoteNotFound     = errors.New("governance vote not found")
)

// GovernanceProposal is a governance action with a voting window.
// Proposals have a lifecycle: active -> passed/failed -> executed or vetoed.
type GovernanceProposal struct {
	ID              uint   `gorm:"primarykey"`
	ProposalId      string `gorm:"uniqueIndex;size:36;not null"`
	Proposer        string `gorm:"index;size:64;not null"`
	Kind            string `gorm:"index;not null"`
	Title           string `gorm:"size:256;not null"`
	Description     string `gorm:"size:4096"`
	Status          string `gorm:"index;not null"`
	VotingOpensAt   time.Time
	VotingClosesAt  time.Time `gorm:"index"`
	ExecutableAfter time.Time
	ExecutedAt      *time.Time
	VetoedAt        *time.Time
	YesPower        uint64 `gorm:"not null;default:0"`
	NoPower         uint64 `gorm:"not null;default:0"`
	AbstainPower    uint64 `gorm:"not null;default:0"`
	// Total utility token supply captured when the proposal was created,
	// used as the quorum denominator
	SnapshotSupply uint64 `gorm:"not null;default:0"`
}

func (GovernanceProposal) TableName() string {
	return "governance_proposal"
}

// GovernanceVote records a single identity's vote on a proposal. Voting
// power is the identity's utility token balance at proposal creation, not
// at vote time.
type GovernanceVote struct {
	ID         uint   `gorm:"primarykey"`
	ProposalId string `gorm:"uniqueIndex:idx_vote_proposal_voter,priority:1;size:36;not null"`
	Voter      string `gorm:"uniqueIndex:idx_vote_proposal_voter,priority:2;size:64;not null"`
	Choice     string `gorm:"not null"`
	Power      uint64 `gorm:"not null"`
	CastAt     time.Time
}

func (GovernanceVote) TableName() string {
	return "governance_vote"
}
