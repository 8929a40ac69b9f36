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
	"encoding/json"
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"gorm.io/gorm"

	"github.com/tabnet-io/tabnet/database/models"
)

// GovernanceProposalCreate stores a new proposal
func (d *Database) GovernanceProposalCreate(
	proposal *models.GovernanceProposal,
	txn *Txn,
) error {
	db := d.resolveMetadataDB(txn)
	if result := db.Create(proposal); result.Error != nil {
		return result.Error
	}
	return nil
}

// GovernanceProposalUpdate saves changes to an existing proposal
func (d *Database) GovernanceProposalUpdate(
	proposal *models.GovernanceProposal,
	txn *Txn,
) error {
	db := d.resolveMetadataDB(txn)
	if result := db.Save(proposal); result.Error != nil {
		return result.Error
	}
	return nil
}

// GovernanceProposalByProposalId retrieves a proposal by its ID
func (d *Database) GovernanceProposalByProposalId(
	proposalId string,
	txn *Txn,
) (*models.GovernanceProposal, error) {
	var proposal models.GovernanceProposal
	db := d.resolveMetadataDB(txn)
	if result := db.Where("proposal_id = ?", proposalId).First(&proposal); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrGovernanceProposalNotFound
		}
		return nil, result.Error
	}
	return &proposal, nil
}

// GovernanceProposalsByStatus retrieves all proposals in the given status
func (d *Database) GovernanceProposalsByStatus(
	status string,
	txn *Txn,
) ([]*models.GovernanceProposal, error) {
	var proposals []*models.GovernanceProposal
	db := d.resolveMetadataDB(txn)
	if result := db.Where("status = ?", status).Find(&proposals); result.Error != nil {
		return nil, result.Error
	}
	return proposals, nil
}

// GovernanceVoteCreate records a vote. A second vote by the same voter on
// the same proposal fails with ErrConflict.
func (d *Database) GovernanceVoteCreate(
	vote *models.GovernanceVote,
	txn *Txn,
) error {
	db := d.resolveMetadataDB(txn)
	if result := db.Create(vote); result.Error != nil {
		// sqlite reports the violated unique index by name
		if strings.Contains(result.Error.Error(), "UNIQUE constraint") {
			return ErrConflict
		}
		return result.Error
	}
	return nil
}

// GovernanceVotesByProposal retrieves all votes cast on a proposal
func (d *Database) GovernanceVotesByProposal(
	proposalId string,
	txn *Txn,
) ([]*models.GovernanceVote, error) {
	var votes []*models.GovernanceVote
	db := d.resolveMetadataDB(txn)
	if result := db.Where("proposal_id = ?", proposalId).Find(&votes); result.Error != nil {
		return nil, result.Error
	}
	return votes, nil
}

const governanceSnapshotBlobKeyPrefix = "gs"

// GovernanceSnapshotBlobKey generates the blob key for a proposal's voting
// power snapshot
func GovernanceSnapshotBlobKey(proposalId string) []byte {
	return []byte(governanceSnapshotBlobKeyPrefix + proposalId)
}

// GovernanceSnapshotSet stores the per-identity voting power captured at
// proposal creation
func (d *Database) GovernanceSnapshotSet(
	proposalId string,
	snapshot map[string]uint64,
	txn *Txn,
) error {
	owned := false
	if txn == nil {
		txn = NewBlobOnlyTxn(d, true)
		owned = true
		defer txn.Rollback() //nolint:errcheck
	}
	snapshotBytes, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := txn.Blob().Set(
		GovernanceSnapshotBlobKey(proposalId),
		snapshotBytes,
	); err != nil {
		return err
	}
	if owned {
		if err := txn.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// GovernanceSnapshotByProposalId returns the voting power snapshot for a
// proposal
func (d *Database) GovernanceSnapshotByProposalId(
	proposalId string,
	txn *Txn,
) (map[string]uint64, error) {
	if txn == nil {
		txn = NewBlobOnlyTxn(d, false)
		defer txn.Rollback() //nolint:errcheck
	}
	item, err := txn.Blob().Get(GovernanceSnapshotBlobKey(proposalId))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	snapshotBytes, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var snapshot map[string]uint64
	if err := json.Unmarshal(snapshotBytes, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}
