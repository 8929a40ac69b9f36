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

package ledger_test

import (
	"sync"
	"testing"
	"time"

	"github.com/tabnet-io/tabnet/database"
	"github.com/tabnet-io/tabnet/event"
	"github.com/tabnet-io/tabnet/kyc"
	"github.com/tabnet-io/tabnet/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGate struct {
	verified map[string]bool
}

func (s *stubGate) IsVerified(identity string) (bool, error) {
	return s.verified[identity], nil
}

type captureSubmitter struct {
	mutex sync.Mutex
	txs   []ledger.Tx
}

func (c *captureSubmitter) AddTransaction(tx ledger.Tx) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.txs = append(c.txs, tx)
	return nil
}

func (c *captureSubmitter) pop() (ledger.Tx, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.txs) == 0 {
		return ledger.Tx{}, false
	}
	tx := c.txs[0]
	c.txs = c.txs[1:]
	return tx, true
}

type testEnv struct {
	ledger    *ledger.Ledger
	db        *database.Database
	gate      *stubGate
	submitter *captureSubmitter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.New(&database.Config{DataDir: ""})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})
	gate := &stubGate{verified: map[string]bool{}}
	submitter := &captureSubmitter{}
	l, err := ledger.New(ledger.LedgerConfig{
		Database:  db,
		Gate:      gate,
		Submitter: submitter,
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
		DailyUtilityCap: 500,
		EngagementRates: map[string]uint64{
			"stream_minute": 2,
			"comment":       5,
			"share":         10,
			"like":          1,
			"view":          1,
		},
	})
	require.NoError(t, err)
	return &testEnv{
		ledger:    l,
		db:        db,
		gate:      gate,
		submitter: submitter,
	}
}

func (e *testEnv) registerNode(t *testing.T, nodeId string, kind string) {
	t.Helper()
	require.NoError(
		t,
		e.ledger.RegisterNode(nodeId, "addr-owner-"+nodeId, kind, "lisbon", "south"),
	)
}

// acceptAndMint runs a sale through acceptance and applies its mint
// transaction as block commit would
func (e *testEnv) acceptAndMint(
	t *testing.T,
	saleId string,
	nodeId string,
	amount uint64,
) ledger.ClaimToken {
	t.Helper()
	token, err := e.ledger.AcceptSale(saleId, nodeId, amount, "buyer-ref")
	require.NoError(t, err)
	tx, ok := e.submitter.pop()
	require.True(t, ok)
	require.Equal(t, ledger.TxKindMint, tx.Kind)
	txn := database.NewTxn(e.db, true)
	require.NoError(t, txn.Do(func(txn *database.Txn) error {
		return e.ledger.ApplyTx(tx, 1, txn)
	}))
	return token
}

func TestSelfOperatedSplitScenario(t *testing.T) {
	env := newTestEnv(t)
	env.registerNode(t, "node-1", "self_operated")
	env.acceptAndMint(t, "sale-1", "node-1", 2500)
	sale, err := env.db.SaleBySaleId("sale-1", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1200), sale.OwnerUnits)
	assert.Equal(t, uint64(75), sale.CharityUnits)
	assert.Equal(t, uint64(1225), sale.BuyerUnits)
	assert.Equal(
		t,
		sale.TotalUnits,
		sale.OwnerUnits+sale.CharityUnits+sale.BuyerUnits,
	)
	// Owner and charity credited immediately, buyer share reserved
	ownerBal, err := env.ledger.SecurityBalance("addr-owner-node-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1200), ownerBal.Units)
	reserved, err := env.ledger.ReservedUnits()
	require.NoError(t, err)
	assert.Equal(t, uint64(1225), reserved)
}

func TestFranchiseSplitRemainderToBuyer(t *testing.T) {
	env := newTestEnv(t)
	env.registerNode(t, "node-2", "franchise")
	env.acceptAndMint(t, "sale-2", "node-2", 1003)
	sale, err := env.db.SaleBySaleId("sale-2", nil)
	require.NoError(t, err)
	// 1003: operator 250, owner 240, charity 30, buyer absorbs the
	// remainder for an exact sum
	assert.Equal(t, uint64(250), sale.OperatorUnits)
	assert.Equal(t, uint64(240), sale.OwnerUnits)
	assert.Equal(t, uint64(30), sale.CharityUnits)
	assert.Equal(t, uint64(483), sale.BuyerUnits)
	assert.Equal(
		t,
		sale.TotalUnits,
		sale.OperatorUnits+sale.OwnerUnits+sale.CharityUnits+sale.BuyerUnits,
	)
}

func TestAcceptSaleIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.registerNode(t, "node-1", "self_operated")
	first, err := env.ledger.AcceptSale("sale-1", "node-1", 2500, "buyer-ref")
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.NotEmpty(t, first.ActivationCode)
	second, err := env.ledger.AcceptSale("sale-1", "node-1", 2500, "buyer-ref")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ClaimAddress, second.ClaimAddress)
	assert.Empty(t, second.ActivationCode)
	// Only one mint transaction was submitted
	_, ok := env.submitter.pop()
	assert.True(t, ok)
	_, ok = env.submitter.pop()
	assert.False(t, ok)
}

func TestAcceptSaleValidation(t *testing.T) {
	env := newTestEnv(t)
	env.registerNode(t, "node-1", "self_operated")
	_, err := env.ledger.AcceptSale("sale-1", "node-1", 0, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = env.ledger.AcceptSale("sale-1", "node-x", 100, "")
	assert.ErrorIs(t, err, ledger.ErrUnknownNode)
	require.NoError(t, env.ledger.DeactivateNode("node-1"))
	_, err = env.ledger.AcceptSale("sale-1", "node-1", 100, "")
	assert.ErrorIs(t, err, ledger.ErrNodeInactive)
}

func TestDoubleMintRejected(t *testing.T) {
	env := newTestEnv(t)
	env.registerNode(t, "node-1", "self_operated")
	_, err := env.ledger.AcceptSale("sale-1", "node-1", 2500, "buyer-ref")
	require.NoError(t, err)
	tx, ok := env.submitter.pop()
	require.True(t, ok)
	txn := database.NewTxn(env.db, true)
	require.NoError(t, txn.Do(func(txn *database.Txn) error {
		return env.ledger.ApplyTx(tx, 1, txn)
	}))
	// Replaying the same mint fails both validation and apply
	err = env.ledger.ValidateTx(tx, nil)
	assert.ErrorIs(t, err, ledger.ErrDoubleMint)
	txn = database.NewTxn(env.db, true)
	err = txn.Do(func(txn *database.Txn) error {
		return env.ledger.ApplyTx(tx, 2, txn)
	})
	assert.ErrorIs(t, err, ledger.ErrDoubleMint)
}

func TestClaimLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.registerNode(t, "node-1", "self_operated")
	token := env.acceptAndMint(t, "sale-1", "node-1", 2500)

	// Wrong code never touches state
	_, err := env.ledger.Claim(token.ClaimAddress, "deadbeef", "addr-buyer")
	assert.ErrorIs(t, err, ledger.ErrInvalidCode)
	// Unknown claim address
	_, err = env.ledger.Claim("addr-nowhere", token.ActivationCode, "addr-buyer")
	assert.ErrorIs(t, err, ledger.ErrClaimNotFound)

	result, err := env.ledger.Claim(
		token.ClaimAddress,
		token.ActivationCode,
		"addr-buyer",
	)
	require.NoError(t, err)
	assert.Equal(t, uint64(1225), result.Units)
	// Unverified claimer stays transfer restricted
	assert.True(t, result.TransferRestricted)
	balance, err := env.ledger.SecurityBalance("addr-buyer")
	require.NoError(t, err)
	assert.Equal(t, uint64(1225), balance.Units)
	reserved, err := env.ledger.ReservedUnits()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), reserved)

	// Reuse fails with AlreadyClaimed
	_, err = env.ledger.Claim(
		token.ClaimAddress,
		token.ActivationCode,
		"addr-other",
	)
	assert.ErrorIs(t, err, ledger.ErrAlreadyClaimed)
}

func TestClaimConcurrentSingleSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.registerNode(t, "node-1", "self_operated")
	token := env.acceptAndMint(t, "sale-1", "node-1", 2500)
	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			identity := "addr-racer"
			_, err := env.ledger.Claim(
				token.ClaimAddress,
				token.ActivationCode,
				identity,
			)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)
	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ledger.ErrAlreadyClaimed)
		}
	}
	assert.Equal(t, 1, successes)
}

func TestClaimExpired(t *testing.T) {
	env := newTestEnv(t)
	env.registerNode(t, "node-1", "self_operated")
	token := env.acceptAndMint(t, "sale-1", "node-1", 2500)
	// Backdate the expiry
	sale, err := env.db.SaleBySaleId("sale-1", nil)
	require.NoError(t, err)
	sale.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, env.db.SaleUpdate(sale, nil))
	_, err = env.ledger.Claim(
		token.ClaimAddress,
		token.ActivationCode,
		"addr-buyer",
	)
	assert.ErrorIs(t, err, ledger.ErrClaimExpired)
	// The reserved buyer share stays in the pool for conversion
	reserved, err := env.ledger.ReservedUnits()
	require.NoError(t, err)
	assert.Equal(t, uint64(1225), reserved)
	sale, err = env.db.SaleBySaleId("sale-1", nil)
	require.NoError(t, err)
	assert.Equal(t, database.SaleStatusExpired, sale.Status)
}

func TestTransferRestrictions(t *testing.T) {
	env := newTestEnv(t)
	env.registerNode(t, "node-1", "self_operated")
	token := env.acceptAndMint(t, "sale-1", "node-1", 2500)
	_, err := env.ledger.Claim(token.ClaimAddress, token.ActivationCode, "addr-buyer")
	require.NoError(t, err)

	// Restricted sender can never originate a transfer
	_, err = env.ledger.Transfer("addr-buyer", "addr-other", 100)
	assert.ErrorIs(t, err, ledger.ErrTransferRestricted)

	// Verify both parties, then transfer goes through consensus
	env.gate.verified["addr-buyer"] = true
	env.gate.verified["addr-other"] = true
	require.NoError(t, env.ledger.LiftRestriction("addr-buyer"))
	require.NoError(t, env.ledger.LiftRestriction("addr-other"))

	_, err = env.ledger.Transfer("addr-buyer", "addr-other", 5000)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	_, err = env.ledger.Transfer("addr-buyer", "addr-other", 200)
	require.NoError(t, err)
	tx, ok := env.submitter.pop()
	require.True(t, ok)
	require.Equal(t, ledger.TxKindTransfer, tx.Kind)
	txn := database.NewTxn(env.db, true)
	require.NoError(t, txn.Do(func(txn *database.Txn) error {
		return env.ledger.ApplyTx(tx, 2, txn)
	}))
	fromBal, err := env.ledger.SecurityBalance("addr-buyer")
	require.NoError(t, err)
	assert.Equal(t, uint64(1025), fromBal.Units)
	toBal, err := env.ledger.SecurityBalance("addr-other")
	require.NoError(t, err)
	assert.Equal(t, uint64(200), toBal.Units)
}

func TestSelectBlockTxsDropsJointOverdraw(t *testing.T) {
	env := newTestEnv(t)
	env.registerNode(t, "node-1", "self_operated")
	env.gate.verified["addr-buyer"] = true
	token := env.acceptAndMint(t, "sale-1", "node-1", 1000)
	_, err := env.ledger.Claim(token.ClaimAddress, token.ActivationCode, "addr-buyer")
	require.NoError(t, err)
	require.NoError(t, env.ledger.LiftRestriction("addr-b"))
	require.NoError(t, env.ledger.LiftRestriction("addr-c"))

	// Both transfers clear submission against the committed 490 units
	_, err = env.ledger.Transfer("addr-buyer", "addr-b", 300)
	require.NoError(t, err)
	tx1, ok := env.submitter.pop()
	require.True(t, ok)
	_, err = env.ledger.Transfer("addr-buyer", "addr-c", 300)
	require.NoError(t, err)
	tx2, ok := env.submitter.pop()
	require.True(t, ok)

	selected, dropped := env.ledger.SelectBlockTxs([]ledger.Tx{tx1, tx2})
	require.Len(t, selected, 1)
	assert.Equal(t, tx1.Id, selected[0].Id)
	require.Len(t, dropped, 1)
	assert.Equal(t, tx2.Id, dropped[0])
}

func TestRestrictionLiftedOnKycVerification(t *testing.T) {
	db, err := database.New(&database.Config{DataDir: ""})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})
	eventBus := event.NewEventBus(nil)
	t.Cleanup(eventBus.Stop)
	gate := kyc.NewGate(kyc.GateConfig{Database: db, EventBus: eventBus})
	submitter := &captureSubmitter{}
	l, err := ledger.New(ledger.LedgerConfig{
		Database:  db,
		EventBus:  eventBus,
		Gate:      gate,
		Submitter: submitter,
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
	})
	require.NoError(t, err)
	require.NoError(t, l.Start())
	t.Cleanup(func() {
		l.Stop() //nolint:errcheck
	})
	require.NoError(
		t,
		l.RegisterNode("node-1", "addr-owner", "self_operated", "lisbon", "south"),
	)
	token, err := l.AcceptSale("sale-1", "node-1", 2500, "buyer-ref")
	require.NoError(t, err)
	tx, ok := submitter.pop()
	require.True(t, ok)
	txn := database.NewTxn(db, true)
	require.NoError(t, txn.Do(func(txn *database.Txn) error {
		return l.ApplyTx(tx, 1, txn)
	}))

	// Claiming while pending leaves the balance transfer restricted
	require.NoError(t, gate.SetStatus("addr-buyer", kyc.StatusPending))
	result, err := l.Claim(token.ClaimAddress, token.ActivationCode, "addr-buyer")
	require.NoError(t, err)
	require.True(t, result.TransferRestricted)
	_, err = l.Transfer("addr-buyer", "addr-other", 100)
	require.ErrorIs(t, err, ledger.ErrTransferRestricted)

	// Verification unlocks the stored balance through the event bus, not
	// just future credits
	require.NoError(t, gate.SetStatus("addr-buyer", kyc.StatusVerified))
	require.NoError(t, gate.SetStatus("addr-other", kyc.StatusPending))
	require.NoError(t, gate.SetStatus("addr-other", kyc.StatusVerified))
	require.Eventually(t, func() bool {
		fromBal, err := l.SecurityBalance("addr-buyer")
		if err != nil || fromBal.TransferRestricted {
			return false
		}
		toBal, err := l.SecurityBalance("addr-other")
		return err == nil && !toBal.TransferRestricted
	}, 2*time.Second, 10*time.Millisecond)
	_, err = l.Transfer("addr-buyer", "addr-other", 100)
	require.NoError(t, err)
	tx, ok = submitter.pop()
	require.True(t, ok)
	assert.Equal(t, ledger.TxKindTransfer, tx.Kind)
}

func TestCreditEngagementDailyCap(t *testing.T) {
	env := newTestEnv(t)
	// 45 stream minutes at rate 2 = 90 units
	result, err := env.ledger.CreditEngagement(
		"addr-fan",
		"stream_minute",
		45,
		"stream-abc",
	)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), result.Credited)
	assert.False(t, result.Partial)

	// 50 shares at rate 10 = 500 requested, 410 headroom left of the
	// 500/day cap; credit truncates silently
	result, err = env.ledger.CreditEngagement("addr-fan", "share", 50, "post-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), result.Requested)
	assert.Equal(t, uint64(410), result.Credited)
	assert.True(t, result.Partial)

	// Cap exhausted, further credits are zero but still not errors
	result, err = env.ledger.CreditEngagement("addr-fan", "like", 3, "post-2")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), result.Credited)
	assert.True(t, result.Partial)

	balance, err := env.ledger.UtilityBalance("addr-fan")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), balance.Units)

	_, err = env.ledger.CreditEngagement("addr-fan", "teleport", 1, "")
	assert.Error(t, err)
}

func TestExpireStaleSales(t *testing.T) {
	env := newTestEnv(t)
	env.registerNode(t, "node-1", "self_operated")
	env.acceptAndMint(t, "sale-old", "node-1", 1000)
	env.acceptAndMint(t, "sale-new", "node-1", 1000)
	sale, err := env.db.SaleBySaleId("sale-old", nil)
	require.NoError(t, err)
	sale.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, env.db.SaleUpdate(sale, nil))
	expired, err := env.ledger.ExpireStaleSales()
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	sale, err = env.db.SaleBySaleId("sale-old", nil)
	require.NoError(t, err)
	assert.Equal(t, database.SaleStatusExpired, sale.Status)
	sale, err = env.db.SaleBySaleId("sale-new", nil)
	require.NoError(t, err)
	assert.Equal(t, database.SaleStatusMinted, sale.Status)
}

func TestTxWellFormed(t *testing.T) {
	tx := ledger.Tx{Kind: ledger.TxKindMint, Id: "m1"}
	assert.Error(t, tx.WellFormed())
	tx.Mint = &ledger.MintTx{
		SaleId:       "sale-1",
		NodeId:       "node-1",
		ClaimAddress: "addr-claim",
		TotalUnits:   100,
		OwnerUnits:   48,
		CharityUnits: 3,
		BuyerUnits:   48,
	}
	// Split does not sum to total
	assert.Error(t, tx.WellFormed())
	tx.Mint.BuyerUnits = 49
	assert.NoError(t, tx.WellFormed())

	badKind := ledger.Tx{Kind: "alchemy", Id: "x"}
	assert.Error(t, badKind.WellFormed())

	selfTransfer := ledger.Tx{
		Kind: ledger.TxKindTransfer,
		Id:   "t1",
		Transfer: &ledger.TransferTx{
			From:  "addr-a",
			To:    "addr-a",
			Units: 10,
		},
	}
	assert.Error(t, selfTransfer.WellFormed())
}
