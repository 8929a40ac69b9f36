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

package chain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tabnet-io/tabnet/chain"
	"github.com/tabnet-io/tabnet/database"
	"github.com/tabnet-io/tabnet/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingApplier struct {
	applied  []string
	validErr error
}

func (r *recordingApplier) ValidateTx(tx ledger.Tx, txn *database.Txn) error {
	return r.validErr
}

func (r *recordingApplier) ApplyTx(
	tx ledger.Tx,
	height uint64,
	txn *database.Txn,
) error {
	r.applied = append(r.applied, tx.Id)
	return nil
}

func testChain(t *testing.T) (*chain.Chain, *recordingApplier) {
	t.Helper()
	db, err := database.New(&database.Config{DataDir: ""})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})
	applier := &recordingApplier{}
	c, err := chain.NewChain(chain.ChainConfig{
		Database: db,
		Applier:  applier,
	})
	require.NoError(t, err)
	return c, applier
}

func nextBlock(t *testing.T, c *chain.Chain, txs []ledger.Tx) chain.Block {
	t.Helper()
	tip := c.Tip()
	block := chain.Block{
		Height:       tip.Height + 1,
		PreviousHash: tip.Hash,
		ValidatorId:  "val-1",
		Timestamp:    time.Now().UTC(),
		Transactions: txs,
	}
	require.NoError(t, block.Seal())
	return block
}

func govTx(id string) ledger.Tx {
	return ledger.Tx{
		Kind:      ledger.TxKindGovernance,
		Id:        id,
		Timestamp: time.Now().UTC(),
		Governance: &ledger.GovernanceTx{
			ProposalId: "prop-1",
			Action:     "vote_cast",
			Actor:      "addr-voter",
		},
	}
}

func TestChainStartsAtGenesis(t *testing.T) {
	c, _ := testChain(t)
	tip := c.Tip()
	assert.Equal(t, uint64(0), tip.Height)
	genesis, err := c.BlockByHeight(0)
	require.NoError(t, err)
	assert.Equal(t, tip.Hash, genesis.Hash)
	assert.Equal(t, "genesis", genesis.ValidatorId)
}

func TestChainLinkage(t *testing.T) {
	c, applier := testChain(t)
	for i := 1; i <= 5; i++ {
		block := nextBlock(t, c, []ledger.Tx{govTx("tx-" + string(rune('a'+i)))})
		require.NoError(t, c.AddBlock(block))
	}
	assert.Equal(t, uint64(5), c.Tip().Height)
	assert.Len(t, applier.applied, 5)
	// previous_hash of every block matches the hash of its parent
	for height := uint64(1); height <= 5; height++ {
		block, err := c.BlockByHeight(height)
		require.NoError(t, err)
		parent, err := c.BlockByHeight(height - 1)
		require.NoError(t, err)
		assert.Equal(t, parent.Hash, block.PreviousHash)
		computed, err := block.ComputeHash()
		require.NoError(t, err)
		assert.Equal(t, computed, block.Hash)
	}
}

func TestChainRejectsBadLinkage(t *testing.T) {
	c, _ := testChain(t)
	block := nextBlock(t, c, nil)
	block.PreviousHash = "0000"
	require.NoError(t, block.Seal())
	err := c.AddBlock(block)
	var notFit chain.BlockNotFitChainTipError
	assert.ErrorAs(t, err, &notFit)

	skipped := nextBlock(t, c, nil)
	skipped.Height = 7
	require.NoError(t, skipped.Seal())
	err = c.AddBlock(skipped)
	assert.ErrorAs(t, err, &notFit)
	assert.Equal(t, uint64(0), c.Tip().Height)
}

func TestChainRejectsTamperedBlock(t *testing.T) {
	c, applier := testChain(t)
	block := nextBlock(t, c, []ledger.Tx{govTx("tx-1")})
	// Mutate after sealing
	block.ValidatorId = "val-evil"
	err := c.AddBlock(block)
	assert.ErrorContains(t, err, "hash mismatch")
	assert.Empty(t, applier.applied)
}

func TestChainRejectsInvalidTransaction(t *testing.T) {
	c, applier := testChain(t)
	applier.validErr = errors.New("double mint")
	block := nextBlock(t, c, []ledger.Tx{govTx("tx-1")})
	err := c.AddBlock(block)
	assert.ErrorContains(t, err, "invalid transaction")
	assert.Empty(t, applier.applied)
	assert.Equal(t, uint64(0), c.Tip().Height)
}

func TestChainTipSurvivesRestart(t *testing.T) {
	db, err := database.New(&database.Config{DataDir: ""})
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck
	applier := &recordingApplier{}
	c, err := chain.NewChain(chain.ChainConfig{Database: db, Applier: applier})
	require.NoError(t, err)
	block := nextBlock(t, c, nil)
	require.NoError(t, c.AddBlock(block))
	// A fresh chain over the same database picks up the persisted tip
	reopened, err := chain.NewChain(chain.ChainConfig{Database: db, Applier: applier})
	require.NoError(t, err)
	assert.Equal(t, c.Tip(), reopened.Tip())
}

type sliceSource struct {
	blocks []chain.Block
}

func (s *sliceSource) FetchBlocks(
	ctx context.Context,
	fromHeight uint64,
	max int,
) ([]chain.Block, error) {
	var ret []chain.Block
	for _, block := range s.blocks {
		if block.Height >= fromHeight && len(ret) < max {
			ret = append(ret, block)
		}
	}
	return ret, nil
}

func TestSyncerAppendsFromSource(t *testing.T) {
	// Build a source chain
	source, _ := testChain(t)
	var blocks []chain.Block
	for i := 1; i <= 4; i++ {
		block := nextBlock(t, source, []ledger.Tx{govTx("tx-" + string(rune('a'+i)))})
		require.NoError(t, source.AddBlock(block))
		blocks = append(blocks, block)
	}
	local, _ := testChain(t)
	syncer := chain.NewSyncer(chain.SyncerConfig{
		Chain:     local,
		Source:    &sliceSource{blocks: blocks},
		BatchSize: 2,
	})
	appended, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, appended)
	assert.Equal(t, source.Tip(), local.Tip())
}

func TestSyncerStopsAtFirstInvalidBlock(t *testing.T) {
	source, _ := testChain(t)
	var blocks []chain.Block
	for i := 1; i <= 3; i++ {
		block := nextBlock(t, source, nil)
		require.NoError(t, source.AddBlock(block))
		blocks = append(blocks, block)
	}
	// Corrupt the middle block
	blocks[1].ValidatorId = "val-forged"
	local, _ := testChain(t)
	syncer := chain.NewSyncer(chain.SyncerConfig{
		Chain:  local,
		Source: &sliceSource{blocks: blocks},
	})
	appended, err := syncer.Sync(context.Background())
	assert.Error(t, err)
	// Only the block before the corruption landed
	assert.Equal(t, 1, appended)
	assert.Equal(t, uint64(1), local.Tip().Height)
}

func TestSyncerCancellable(t *testing.T) {
	local, _ := testChain(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	syncer := chain.NewSyncer(chain.SyncerConfig{
		Chain:  local,
		Source: &sliceSource{},
	})
	_, err := syncer.Sync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
