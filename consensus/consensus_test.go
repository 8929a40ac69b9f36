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

package consensus_test

import (
	"testing"
	"time"

	"github.com/tabnet-io/tabnet/chain"
	"github.com/tabnet-io/tabnet/consensus"
	"github.com/tabnet-io/tabnet/database"
	"github.com/tabnet-io/tabnet/event"
	"github.com/tabnet-io/tabnet/kyc"
	"github.com/tabnet-io/tabnet/ledger"
	"github.com/tabnet-io/tabnet/mempool"
	"github.com/tabnet-io/tabnet/validator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testStack struct {
	db       *database.Database
	eventBus *event.EventBus
	gate     *kyc.Gate
	ledger   *ledger.Ledger
	mempool  *mempool.Mempool
	chain    *chain.Chain
	registry *validator.Registry
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	db, err := database.New(&database.Config{DataDir: ""})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})
	eventBus := event.NewEventBus(nil)
	t.Cleanup(eventBus.Stop)
	gate := kyc.NewGate(kyc.GateConfig{Database: db})
	l, err := ledger.New(ledger.LedgerConfig{
		Database: db,
		EventBus: eventBus,
		Gate:     gate,
		SelfOperatedSplit: ledger.SplitConfig{
			OwnerPct:   48,
			CharityPct: 3,
			BuyerPct:   49,
		},
		FranchiseSplit: ledger.SplitConfig{
			OperatorPct: 25,
			OwnerPct:    24,
			CharityPct:  3,
			BuyerPct:    48,
		},
		OperatorAddress: "addr-operator",
		CharityAddress:  "addr-charity",
		ClaimValidity:   time.Hour,
		EngagementRates: map[string]uint64{"comment": 5},
	})
	require.NoError(t, err)
	pool := mempool.NewMempool(mempool.MempoolConfig{
		Validator:       l,
		EventBus:        eventBus,
		MempoolCapacity: 100,
	})
	l.SetSubmitter(pool)
	c, err := chain.NewChain(chain.ChainConfig{
		Database: db,
		EventBus: eventBus,
		Applier:  l,
	})
	require.NoError(t, err)
	registry := validator.NewRegistry(validator.RegistryConfig{
		Database:         db,
		MinScore:         0.1,
		MaxValidators:    3,
		ProposerCooldown: 1,
	})
	return &testStack{
		db:       db,
		eventBus: eventBus,
		gate:     gate,
		ledger:   l,
		mempool:  pool,
		chain:    c,
		registry: registry,
	}
}

func (s *testStack) engine(
	t *testing.T,
	attesters map[string]consensus.Attester,
) *consensus.Engine {
	t.Helper()
	engine, err := consensus.NewEngine(consensus.EngineConfig{
		EventBus:  s.eventBus,
		Chain:     s.chain,
		Mempool:   s.mempool,
		Registry:  s.registry,
		Selector:  s.ledger,
		Attesters: attesters,
	})
	require.NoError(t, err)
	return engine
}

func TestProduceBlockCommitsMint(t *testing.T) {
	stack := newTestStack(t)
	require.NoError(t, stack.registry.Register("val-a", "north", 600))
	require.NoError(t, stack.registry.Register("val-b", "south", 400))
	require.NoError(
		t,
		stack.ledger.RegisterNode("node-1", "addr-owner", "self_operated", "porto", "north"),
	)
	_, err := stack.ledger.AcceptSale("sale-1", "node-1", 2500, "buyer-ref")
	require.NoError(t, err)
	require.Equal(t, 1, stack.mempool.Count())

	engine := stack.engine(t, nil)
	block, err := engine.ProduceBlock()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), block.Height)
	require.Len(t, block.Transactions, 1)
	assert.Equal(t, ledger.TxKindMint, block.Transactions[0].Kind)

	// Sale is minted, mempool drained, chain advanced
	sale, err := stack.db.SaleBySaleId("sale-1", nil)
	require.NoError(t, err)
	assert.Equal(t, database.SaleStatusMinted, sale.Status)
	assert.Equal(t, uint64(1), sale.MintedAtHeight)
	assert.Equal(t, 0, stack.mempool.Count())
	assert.Equal(t, uint64(1), stack.chain.Tip().Height)

	// Nothing left to propose
	_, err = engine.ProduceBlock()
	assert.ErrorIs(t, err, consensus.ErrNoTransactions)
}

func TestProduceBlockRejectedWithoutSupermajority(t *testing.T) {
	stack := newTestStack(t)
	require.NoError(t, stack.registry.Register("val-a", "north", 500))
	require.NoError(t, stack.registry.Register("val-b", "south", 300))
	require.NoError(t, stack.registry.Register("val-c", "east", 200))
	require.NoError(
		t,
		stack.ledger.RegisterNode("node-1", "addr-owner", "self_operated", "porto", "north"),
	)
	_, err := stack.ledger.AcceptSale("sale-1", "node-1", 1000, "buyer-ref")
	require.NoError(t, err)

	// 500 of 1000 stake dissents, leaving attestation below 2/3
	dissent := consensus.AttesterFunc(func(chain.Block) bool { return false })
	engine := stack.engine(t, map[string]consensus.Attester{"val-a": dissent})
	_, err = engine.ProduceBlock()
	assert.ErrorIs(t, err, consensus.ErrInsufficientStake)

	// Rejection leaves the chain and mempool untouched and returns the
	// round to collecting
	assert.Equal(t, uint64(0), stack.chain.Tip().Height)
	assert.Equal(t, 1, stack.mempool.Count())
	assert.Equal(t, consensus.StateCollecting, engine.State())
	sale, err := stack.db.SaleBySaleId("sale-1", nil)
	require.NoError(t, err)
	assert.Equal(t, database.SaleStatusPending, sale.Status)
}

func TestProduceBlockProposerCooldown(t *testing.T) {
	stack := newTestStack(t)
	require.NoError(t, stack.registry.Register("val-a", "north", 600))
	require.NoError(t, stack.registry.Register("val-b", "south", 400))
	require.NoError(
		t,
		stack.ledger.RegisterNode("node-1", "addr-owner", "self_operated", "porto", "north"),
	)
	engine := stack.engine(t, nil)

	_, err := stack.ledger.AcceptSale("sale-1", "node-1", 1000, "ref")
	require.NoError(t, err)
	first, err := engine.ProduceBlock()
	require.NoError(t, err)

	_, err = stack.ledger.AcceptSale("sale-2", "node-1", 1000, "ref")
	require.NoError(t, err)
	second, err := engine.ProduceBlock()
	require.NoError(t, err)

	// The height-1 proposer sits out its cooldown at height 2
	assert.NotEqual(t, first.ValidatorId, second.ValidatorId)
}

func TestProduceBlockDropsJointlyOverdrawnTransfer(t *testing.T) {
	stack := newTestStack(t)
	require.NoError(t, stack.registry.Register("val-a", "north", 600))
	require.NoError(t, stack.registry.Register("val-b", "south", 400))
	require.NoError(
		t,
		stack.ledger.RegisterNode("node-1", "addr-owner", "self_operated", "porto", "north"),
	)
	require.NoError(t, stack.gate.SetStatus("addr-x", kyc.StatusPending))
	require.NoError(t, stack.gate.SetStatus("addr-x", kyc.StatusVerified))

	token, err := stack.ledger.AcceptSale("sale-1", "node-1", 1000, "buyer-ref")
	require.NoError(t, err)
	engine := stack.engine(t, nil)
	_, err = engine.ProduceBlock()
	require.NoError(t, err)
	claim, err := stack.ledger.Claim(
		token.ClaimAddress,
		token.ActivationCode,
		"addr-x",
	)
	require.NoError(t, err)
	require.False(t, claim.TransferRestricted)
	require.Equal(t, uint64(490), claim.Units)
	require.NoError(t, stack.ledger.LiftRestriction("addr-a"))
	require.NoError(t, stack.ledger.LiftRestriction("addr-b"))

	// Each transfer clears against committed state alone; together they
	// overdraw addr-x
	_, err = stack.ledger.Transfer("addr-x", "addr-a", 490)
	require.NoError(t, err)
	_, err = stack.ledger.Transfer("addr-x", "addr-b", 490)
	require.NoError(t, err)
	require.Equal(t, 2, stack.mempool.Count())

	block, err := engine.ProduceBlock()
	require.NoError(t, err)
	require.Len(t, block.Transactions, 1)
	assert.Equal(t, ledger.TxKindTransfer, block.Transactions[0].Kind)
	assert.Equal(t, uint64(2), stack.chain.Tip().Height)
	// The conflicting transfer is evicted, not recycled into the next
	// proposal
	assert.Equal(t, 0, stack.mempool.Count())
	balance, err := stack.ledger.SecurityBalance("addr-x")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), balance.Units)
	_, err = engine.ProduceBlock()
	assert.ErrorIs(t, err, consensus.ErrNoTransactions)
}

func TestEngineStartStop(t *testing.T) {
	stack := newTestStack(t)
	require.NoError(t, stack.registry.Register("val-a", "north", 100))
	engine, err := consensus.NewEngine(consensus.EngineConfig{
		Chain:         stack.chain,
		Mempool:       stack.mempool,
		Registry:      stack.registry,
		BlockInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Start(t.Context()))
	assert.ErrorIs(t, engine.Start(t.Context()), consensus.ErrAlreadyRunning)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, engine.Stop())
}
