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

	badger "github.com/dgraph-io/badger/v4"
)

const (
	blockBlobKeyPrefix   = "bp"
	blockHashIndexPrefix = "bi"
	chainTipBlobKey      = "tip"
)

// Tip identifies the current end of the local chain
type Tip struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

// BlockBlobKey generates the blob key for a block at the given height
func BlockBlobKey(height uint64) []byte {
	key := []byte(blockBlobKeyPrefix)
	heightBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(heightBytes, height)
	return append(key, heightBytes...)
}

// BlockHashIndexKey generates the blob key for the hash-to-height index
func BlockHashIndexKey(hash string) []byte {
	return []byte(blockHashIndexPrefix + hash)
}

// BlockCreate stores a serialized block at its height and indexes its hash
func (d *Database) BlockCreate(
	height uint64,
	hash string,
	blockBytes []byte,
	txn *Txn,
) error {
	owned := false
	if txn == nil {
		txn = NewBlobOnlyTxn(d, true)
		owned = true
		defer txn.Rollback() //nolint:errcheck
	}
	if err := txn.Blob().Set(BlockBlobKey(height), blockBytes); err != nil {
		return err
	}
	heightBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(heightBytes, height)
	if err := txn.Blob().Set(BlockHashIndexKey(hash), heightBytes); err != nil {
		return err
	}
	// Advance tip
	tipBytes, err := json.Marshal(&Tip{Height: height, Hash: hash})
	if err != nil {
		return err
	}
	if err := txn.Blob().Set([]byte(chainTipBlobKey), tipBytes); err != nil {
		return err
	}
	if owned {
		if err := txn.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// BlockByHeight returns the serialized block stored at the given height
func (d *Database) BlockByHeight(height uint64, txn *Txn) ([]byte, error) {
	if txn == nil {
		txn = NewBlobOnlyTxn(d, false)
		defer txn.Rollback() //nolint:errcheck
	}
	item, err := txn.Blob().Get(BlockBlobKey(height))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

// BlockHeightByHash resolves a block hash to its height
func (d *Database) BlockHeightByHash(hash string, txn *Txn) (uint64, error) {
	if txn == nil {
		txn = NewBlobOnlyTxn(d, false)
		defer txn.Rollback() //nolint:errcheck
	}
	item, err := txn.Blob().Get(BlockHashIndexKey(hash))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, ErrKeyNotFound
		}
		return 0, err
	}
	heightBytes, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	if len(heightBytes) != 8 {
		return 0, errors.New("malformed block hash index record")
	}
	return binary.BigEndian.Uint64(heightBytes), nil
}

// GetTip returns the current chain tip, or ErrKeyNotFound when the chain is
// empty
func (d *Database) GetTip(txn *Txn) (Tip, error) {
	var ret Tip
	if txn == nil {
		txn = NewBlobOnlyTxn(d, false)
		defer txn.Rollback() //nolint:errcheck
	}
	item, err := txn.Blob().Get([]byte(chainTipBlobKey))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ret, ErrKeyNotFound
		}
		return ret, err
	}
	tipBytes, err := item.ValueCopy(nil)
	if err != nil {
		return ret, err
	}
	if err := json.Unmarshal(tipBytes, &ret); err != nil {
		return ret, err
	}
	return ret, nil
}
