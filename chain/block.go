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

package chain

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/tabnet-io/tabnet/ledger"
)

// Block is one chain entry. Hash covers the serialized block with the
// Hash field blanked, so a block's hash never depends on itself.
type Block struct {
	Height       uint64      `json:"height"`
	Hash         string      `json:"hash"`
	PreviousHash string      `json:"previous_hash"`
	ValidatorId  string      `json:"validator_id"`
	Timestamp    time.Time   `json:"timestamp"`
	Transactions []ledger.Tx `json:"transactions"`
}

// ComputeHash returns the blake2b-256 digest of the block, excluding the
// hash field itself
func (b Block) ComputeHash() (string, error) {
	unsealed := b
	unsealed.Hash = ""
	blockBytes, err := json.Marshal(&unsealed)
	if err != nil {
		return "", err
	}
	digest := blake2b.Sum256(blockBytes)
	return hex.EncodeToString(digest[:]), nil
}

// Seal computes and sets the block hash
func (b *Block) Seal() error {
	hash, err := b.ComputeHash()
	if err != nil {
		return err
	}
	b.Hash = hash
	return nil
}

// Serialize encodes the block for persistence and transport
func (b Block) Serialize() ([]byte, error) {
	return json.Marshal(&b)
}

// DeserializeBlock decodes a persisted or received block
func DeserializeBlock(data []byte) (Block, error) {
	var block Block
	if err := json.Unmarshal(data, &block); err != nil {
		return block, err
	}
	return block, nil
}

// GenesisBlock returns the fixed height-zero block that anchors every
// chain
func GenesisBlock() Block {
	block := Block{
		Height:      0,
		ValidatorId: "genesis",
		Timestamp:   time.Unix(0, 0).UTC(),
	}
	// Hashing a fixed block cannot fail
	hash, _ := block.ComputeHash()
	block.Hash = hash
	return block
}
