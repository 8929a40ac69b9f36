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
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const (
	securityBalanceBlobKeyPrefix = "sb"
	utilityBalanceBlobKeyPrefix  = "ub"
	reservedUnitsBlobKey         = "rs"
)

// SecurityBalance is the persisted per-identity security token record.
// TransferRestricted stays true until the identity's KYC status is verified.
type SecurityBalance struct {
	Address            string    `json:"address"`
	Units              uint64    `json:"units"`
	TransferRestricted bool      `json:"transfer_restricted"`
	DividendEligible   bool      `json:"dividend_eligible"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// UtilityBalance is the persisted per-identity reputation token record.
// Balances are cumulative and non-transferable. Seq increments on every
// credit so that conversion snapshots can exclude accruals that land after
// the snapshot point without pausing accrual.
type UtilityBalance struct {
	Address     string    `json:"address"`
	Units       uint64    `json:"units"`
	Seq         uint64    `json:"seq"`
	DayCredited uint64    `json:"day_credited"`
	DayStart    time.Time `json:"day_start"`
	LastUpdated time.Time `json:"last_updated"`
}

// SecurityBalanceBlobKey generates the blob key for a security balance record
func SecurityBalanceBlobKey(address string) []byte {
	return []byte(securityBalanceBlobKeyPrefix + address)
}

// UtilityBalanceBlobKey generates the blob key for a utility balance record
func UtilityBalanceBlobKey(address string) []byte {
	return []byte(utilityBalanceBlobKeyPrefix + address)
}

// SecurityBalanceByAddress returns the security balance record for an
// address. A missing record is returned as a zero balance, not an error.
func (d *Database) SecurityBalanceByAddress(
	address string,
	txn *Txn,
) (SecurityBalance, error) {
	ret := SecurityBalance{
		Address: address,
		// Restricted until KYC confirms otherwise
		TransferRestricted: true,
	}
	if txn == nil {
		txn = NewBlobOnlyTxn(d, false)
		defer txn.Rollback() //nolint:errcheck
	}
	item, err := txn.Blob().Get(SecurityBalanceBlobKey(address))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ret, nil
		}
		return ret, err
	}
	balanceBytes, err := item.ValueCopy(nil)
	if err != nil {
		return ret, err
	}
	if err := json.Unmarshal(balanceBytes, &ret); err != nil {
		return ret, err
	}
	return ret, nil
}

// SecurityBalanceSet overwrites the security balance record for an address
func (d *Database) SecurityBalanceSet(
	balance SecurityBalance,
	txn *Txn,
) error {
	owned := false
	if txn == nil {
		txn = NewBlobOnlyTxn(d, true)
		owned = true
		defer txn.Rollback() //nolint:errcheck
	}
	balanceBytes, err := json.Marshal(&balance)
	if err != nil {
		return err
	}
	if err := txn.Blob().Set(
		SecurityBalanceBlobKey(balance.Address),
		balanceBytes,
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

// UtilityBalanceByAddress returns the utility balance record for an address.
// A missing record is returned as a zero balance, not an error.
func (d *Database) UtilityBalanceByAddress(
	address string,
	txn *Txn,
) (UtilityBalance, error) {
	ret := UtilityBalance{Address: address}
	if txn == nil {
		txn = NewBlobOnlyTxn(d, false)
		defer txn.Rollback() //nolint:errcheck
	}
	item, err := txn.Blob().Get(UtilityBalanceBlobKey(address))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ret, nil
		}
		return ret, err
	}
	balanceBytes, err := item.ValueCopy(nil)
	if err != nil {
		return ret, err
	}
	if err := json.Unmarshal(balanceBytes, &ret); err != nil {
		return ret, err
	}
	return ret, nil
}

// UtilityBalanceSet overwrites the utility balance record for an address
func (d *Database) UtilityBalanceSet(
	balance UtilityBalance,
	txn *Txn,
) error {
	owned := false
	if txn == nil {
		txn = NewBlobOnlyTxn(d, true)
		owned = true
		defer txn.Rollback() //nolint:errcheck
	}
	balanceBytes, err := json.Marshal(&balance)
	if err != nil {
		return err
	}
	if err := txn.Blob().Set(
		UtilityBalanceBlobKey(balance.Address),
		balanceBytes,
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

// UtilityBalances walks every utility balance record. Used to take
// conversion round snapshots.
func (d *Database) UtilityBalances(txn *Txn) ([]UtilityBalance, error) {
	if txn == nil {
		txn = NewBlobOnlyTxn(d, false)
		defer txn.Rollback() //nolint:errcheck
	}
	var ret []UtilityBalance
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Prefix = []byte(utilityBalanceBlobKeyPrefix)
	it := txn.Blob().NewIterator(iterOpts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		balanceBytes, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		var tmpBalance UtilityBalance
		if err := json.Unmarshal(balanceBytes, &tmpBalance); err != nil {
			return nil, err
		}
		ret = append(ret, tmpBalance)
	}
	return ret, nil
}

// ReservedUnits returns the total security token units currently reserved
// for unclaimed buyer shares plus expired-sale carryover
func (d *Database) ReservedUnits(txn *Txn) (uint64, error) {
	if txn == nil {
		txn = NewBlobOnlyTxn(d, false)
		defer txn.Rollback() //nolint:errcheck
	}
	item, err := txn.Blob().Get([]byte(reservedUnitsBlobKey))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	unitsBytes, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	if len(unitsBytes) != 8 {
		return 0, errors.New("malformed reserved units record")
	}
	return binary.BigEndian.Uint64(unitsBytes), nil
}

// ReservedUnitsSet overwrites the reserved units counter
func (d *Database) ReservedUnitsSet(units uint64, txn *Txn) error {
	owned := false
	if txn == nil {
		txn = NewBlobOnlyTxn(d, true)
		owned = true
		defer txn.Rollback() //nolint:errcheck
	}
	unitsBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(unitsBytes, units)
	if err := txn.Blob().Set([]byte(reservedUnitsBlobKey), unitsBytes); err != nil {
		return err
	}
	if owned {
		if err := txn.Commit(); err != nil {
			return err
		}
	}
	return nil
}
