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

// Package chain maintains the local block chain: structural validation,
// transaction application, and persistence. Only validated blocks are
// ever appended.
package chain

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tabnet-io/tabnet/database"
	"github.com/tabnet-io/tabnet/event"
	"github.com/tabnet-io/tabnet/ledger"
)

const (
	ChainUpdateEventType event.EventType = "chain.update"
)

// ChainBlockEvent is published after a block is appended
type ChainBlockEvent struct {
	Height uint64
	Hash   string
	Txs    int
}

var (
	ErrEmptyChain = errors.New("chain has no blocks")
)

// BlockNotFitChainTipError indicates a block that does not extend the
// current tip
type BlockNotFitChainTipError struct {
	blockHeight   uint64
	blockPrevHash string
	tipHeight     uint64
	tipHash       string
}

func (e BlockNotFitChainTipError) Error() string {
	return fmt.Sprintf(
		"block at height %d with prev hash %s does not fit on current chain tip %d (%s)",
		e.blockHeight,
		e.blockPrevHash,
		e.tipHeight,
		e.tipHash,
	)
}

// TxApplier validates and applies block transactions. The ledger
// implements it.
type TxApplier interface {
	ValidateTx(tx ledger.Tx, txn *database.Txn) error
	ApplyTx(tx ledger.Tx, height uint64, txn *database.Txn) error
}

// ChainConfig holds configuration for the chain manager
type ChainConfig struct {
	Logger   *slog.Logger
	EventBus *event.EventBus
	Database *database.Database
	Applier  TxApplier
}

// Chain is the single writer for the local block chain
type Chain struct {
	config     ChainConfig
	logger     *slog.Logger
	mutex      sync.RWMutex
	currentTip database.Tip
}

func NewChain(config ChainConfig) (*Chain, error) {
	if config.Database == nil {
		return nil, errors.New("no database provided")
	}
	c := &Chain{
		config: config,
		logger: config.Logger,
	}
	if c.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if err := c.load(); err != nil {
		return nil, fmt.Errorf("failed to load chain: %w", err)
	}
	return c, nil
}

// load restores the tip from the database, writing the genesis block on
// first start
func (c *Chain) load() error {
	tip, err := c.config.Database.GetTip(nil)
	if err == nil {
		c.currentTip = tip
		return nil
	}
	if !errors.Is(err, database.ErrKeyNotFound) {
		return err
	}
	genesis := GenesisBlock()
	genesisBytes, err := genesis.Serialize()
	if err != nil {
		return err
	}
	if err := c.config.Database.BlockCreate(
		genesis.Height,
		genesis.Hash,
		genesisBytes,
		nil,
	); err != nil {
		return err
	}
	c.currentTip = database.Tip{
		Height: genesis.Height,
		Hash:   genesis.Hash,
	}
	c.logger.Info(
		"initialized chain at genesis",
		"component", "chain",
		"hash", genesis.Hash,
	)
	return nil
}

// Tip returns the current chain tip
func (c *Chain) Tip() database.Tip {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.currentTip
}

// BlockByHeight returns the block stored at the given height
func (c *Chain) BlockByHeight(height uint64) (Block, error) {
	blockBytes, err := c.config.Database.BlockByHeight(height, nil)
	if err != nil {
		if errors.Is(err, database.ErrKeyNotFound) {
			return Block{}, fmt.Errorf(
				"%w: no block at height %d",
				ErrEmptyChain,
				height,
			)
		}
		return Block{}, err
	}
	return DeserializeBlock(blockBytes)
}

// ValidateBlock checks a candidate block's structural invariants and every
// transaction against current state without applying anything
func (c *Chain) ValidateBlock(block Block) error {
	c.mutex.RLock()
	tip := c.currentTip
	c.mutex.RUnlock()
	return c.validateAgainstTip(block, tip)
}

func (c *Chain) validateAgainstTip(block Block, tip database.Tip) error {
	if block.Height != tip.Height+1 || block.PreviousHash != tip.Hash {
		return BlockNotFitChainTipError{
			blockHeight:   block.Height,
			blockPrevHash: block.PreviousHash,
			tipHeight:     tip.Height,
			tipHash:       tip.Hash,
		}
	}
	expectedHash, err := block.ComputeHash()
	if err != nil {
		return err
	}
	if block.Hash != expectedHash {
		return fmt.Errorf(
			"block hash mismatch: got %s, computed %s",
			block.Hash,
			expectedHash,
		)
	}
	if block.ValidatorId == "" {
		return errors.New("block has no validator")
	}
	for _, tx := range block.Transactions {
		if err := c.config.Applier.ValidateTx(tx, nil); err != nil {
			return fmt.Errorf("invalid transaction %s: %w", tx.Id, err)
		}
	}
	return nil
}

// AddBlock validates a block and atomically applies its transactions and
// persists it. A block that fails validation leaves no trace.
func (c *Chain) AddBlock(block Block) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.validateAgainstTip(block, c.currentTip); err != nil {
		return err
	}
	blockBytes, err := block.Serialize()
	if err != nil {
		return err
	}
	txn := database.NewTxn(c.config.Database, true)
	err = txn.Do(func(txn *database.Txn) error {
		for _, tx := range block.Transactions {
			if err := c.config.Applier.ApplyTx(tx, block.Height, txn); err != nil {
				return err
			}
		}
		return c.config.Database.BlockCreate(
			block.Height,
			block.Hash,
			blockBytes,
			txn,
		)
	})
	if err != nil {
		return err
	}
	c.currentTip = database.Tip{
		Height: block.Height,
		Hash:   block.Hash,
	}
	c.logger.Info(
		"appended block",
		"component", "chain",
		"height", block.Height,
		"hash", block.Hash,
		"txs", len(block.Transactions),
	)
	if c.config.EventBus != nil {
		c.config.EventBus.Publish(
			ChainUpdateEventType,
			event.NewEvent(
				ChainUpdateEventType,
				ChainBlockEvent{
					Height: block.Height,
					Hash:   block.Hash,
					Txs:    len(block.Transactions),
				},
			),
		)
	}
	return nil
}
