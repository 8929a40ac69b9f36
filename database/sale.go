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
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const (
	saleBlobKeyPrefix       = "sl"
	claimIndexBlobKeyPrefix = "sc"
)

// SaleStatus is the lifecycle state of a sale record
type SaleStatus string

const (
	SaleStatusPending SaleStatus = "pending"
	SaleStatusMinted  SaleStatus = "minted"
	SaleStatusClaimed SaleStatus = "claimed"
	SaleStatusExpired SaleStatus = "expired"
)

// Sale is the persisted record for a point-of-sale purchase. SaleId is the
// idempotency key: one record exists per sale, ever.
type Sale struct {
	SaleId          string     `json:"sale_id"`
	NodeId          string     `json:"node_id"`
	BuyerReference  string     `json:"buyer_reference"`
	ClaimAddress    string     `json:"claim_address"`
	ClaimCodeHash   string     `json:"claim_code_hash"`
	ClaimedBy       string     `json:"claimed_by,omitempty"`
	Status          SaleStatus `json:"status"`
	AmountSubunits  uint64     `json:"amount_subunits"`
	TotalUnits      uint64     `json:"total_units"`
	OwnerUnits      uint64     `json:"owner_units"`
	OperatorUnits   uint64     `json:"operator_units"`
	BuyerUnits      uint64     `json:"buyer_units"`
	CharityUnits    uint64     `json:"charity_units"`
	RoyaltyUnits    uint64     `json:"royalty_units"`
	CreatedAt       time.Time  `json:"created_at"`
	MintedAtHeight  uint64     `json:"minted_at_height,omitempty"`
	ClaimedAt       time.Time  `json:"claimed_at,omitzero"`
	ExpiresAt       time.Time  `json:"expires_at"`
	ReserveReleased bool       `json:"reserve_released,omitempty"`
}

// SaleBlobKey generates the blob key for a sale record
func SaleBlobKey(saleId string) []byte {
	return []byte(saleBlobKeyPrefix + saleId)
}

// ClaimIndexBlobKey generates the blob key for the claim address index
func ClaimIndexBlobKey(claimAddress string) []byte {
	return []byte(claimIndexBlobKeyPrefix + claimAddress)
}

// SaleCreate writes a new sale record. It fails with ErrConflict if a record
// for the same sale_id already exists, making retried submissions detectable
// as duplicates rather than silently overwriting.
func (d *Database) SaleCreate(sale Sale, txn *Txn) error {
	owned := false
	if txn == nil {
		txn = NewBlobOnlyTxn(d, true)
		owned = true
		defer txn.Rollback() //nolint:errcheck
	}
	key := SaleBlobKey(sale.SaleId)
	// Compare-and-insert on sale_id
	if _, err := txn.Blob().Get(key); err == nil {
		return ErrConflict
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	saleBytes, err := json.Marshal(&sale)
	if err != nil {
		return err
	}
	if err := txn.Blob().Set(key, saleBytes); err != nil {
		return err
	}
	// Claim address index
	if sale.ClaimAddress != "" {
		indexKey := ClaimIndexBlobKey(sale.ClaimAddress)
		if err := txn.Blob().Set(indexKey, []byte(sale.SaleId)); err != nil {
			return err
		}
	}
	if owned {
		if err := txn.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SaleUpdate overwrites an existing sale record
func (d *Database) SaleUpdate(sale Sale, txn *Txn) error {
	owned := false
	if txn == nil {
		txn = NewBlobOnlyTxn(d, true)
		owned = true
		defer txn.Rollback() //nolint:errcheck
	}
	saleBytes, err := json.Marshal(&sale)
	if err != nil {
		return err
	}
	if err := txn.Blob().Set(SaleBlobKey(sale.SaleId), saleBytes); err != nil {
		return err
	}
	if owned {
		if err := txn.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SaleBySaleId returns the sale record for the given sale_id
func (d *Database) SaleBySaleId(saleId string, txn *Txn) (Sale, error) {
	var ret Sale
	if txn == nil {
		txn = NewBlobOnlyTxn(d, false)
		defer txn.Rollback() //nolint:errcheck
	}
	item, err := txn.Blob().Get(SaleBlobKey(saleId))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ret, ErrKeyNotFound
		}
		return ret, err
	}
	saleBytes, err := item.ValueCopy(nil)
	if err != nil {
		return ret, err
	}
	if err := json.Unmarshal(saleBytes, &ret); err != nil {
		return ret, err
	}
	return ret, nil
}

// SaleByClaimAddress resolves a claim address to its sale record via the
// claim index
func (d *Database) SaleByClaimAddress(
	claimAddress string,
	txn *Txn,
) (Sale, error) {
	var ret Sale
	if txn == nil {
		txn = NewBlobOnlyTxn(d, false)
		defer txn.Rollback() //nolint:errcheck
	}
	item, err := txn.Blob().Get(ClaimIndexBlobKey(claimAddress))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ret, ErrKeyNotFound
		}
		return ret, err
	}
	saleIdBytes, err := item.ValueCopy(nil)
	if err != nil {
		return ret, err
	}
	return d.SaleBySaleId(string(saleIdBytes), txn)
}

// SalesByStatus returns all sale records currently in the given status.
// This walks the sale prefix and is intended for periodic sweeps, not hot
// paths.
func (d *Database) SalesByStatus(
	status SaleStatus,
	txn *Txn,
) ([]Sale, error) {
	if txn == nil {
		txn = NewBlobOnlyTxn(d, false)
		defer txn.Rollback() //nolint:errcheck
	}
	var ret []Sale
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Prefix = []byte(saleBlobKeyPrefix)
	it := txn.Blob().NewIterator(iterOpts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		saleBytes, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		var tmpSale Sale
		if err := json.Unmarshal(saleBytes, &tmpSale); err != nil {
			return nil, err
		}
		if tmpSale.Status == status {
			ret = append(ret, tmpSale)
		}
	}
	return ret, nil
}
