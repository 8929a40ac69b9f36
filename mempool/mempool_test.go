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

package mempool_test

import (
	"errors"
	"testing"
	"time"

	"github.com/tabnet-io/tabnet/database"
	"github.com/tabnet-io/tabnet/event"
	"github.com/tabnet-io/tabnet/ledger"
	"github.com/tabnet-io/tabnet/mempool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type stubValidator struct {
	rejected map[string]error
}

func (s *stubValidator) ValidateTx(tx ledger.Tx, txn *database.Txn) error {
	if err, ok := s.rejected[tx.Id]; ok {
		return err
	}
	return nil
}

func mintTx(id string) ledger.Tx {
	return ledger.Tx{
		Kind:      ledger.TxKindMint,
		Id:        id,
		Timestamp: time.Now(),
		Mint: &ledger.MintTx{
			SaleId:       id,
			NodeId:       "node-1",
			TotalUnits:   100,
			BuyerUnits:   100,
			ClaimAddress: "addr-claim-" + id,
		},
	}
}

func transferTx(id string) ledger.Tx {
	return ledger.Tx{
		Kind:      ledger.TxKindTransfer,
		Id:        id,
		Timestamp: time.Now(),
		Transfer: &ledger.TransferTx{
			From:  "addr-a",
			To:    "addr-b",
			Units: 10,
		},
	}
}

func testMempool(
	t *testing.T,
	validator *stubValidator,
	capacity int,
) *mempool.Mempool {
	t.Helper()
	eventBus := event.NewEventBus(nil)
	t.Cleanup(eventBus.Stop)
	return mempool.NewMempool(mempool.MempoolConfig{
		Validator:       validator,
		EventBus:        eventBus,
		MempoolCapacity: capacity,
	})
}

func TestAddTransactionDeduplicates(t *testing.T) {
	m := testMempool(t, &stubValidator{}, 10)
	require.NoError(t, m.AddTransaction(transferTx("tx-1")))
	require.NoError(t, m.AddTransaction(transferTx("tx-1")))
	assert.Equal(t, 1, m.Count())
	got, ok := m.GetTransaction("tx-1")
	require.True(t, ok)
	assert.Equal(t, "tx-1", got.Tx.Id)
}

func TestAddTransactionRejectsInvalid(t *testing.T) {
	validator := &stubValidator{
		rejected: map[string]error{"tx-bad": errors.New("double mint")},
	}
	m := testMempool(t, validator, 10)
	err := m.AddTransaction(mintTx("tx-bad"))
	assert.ErrorContains(t, err, "double mint")
	assert.Equal(t, 0, m.Count())
}

func TestMempoolCapacity(t *testing.T) {
	m := testMempool(t, &stubValidator{}, 2)
	require.NoError(t, m.AddTransaction(transferTx("tx-1")))
	require.NoError(t, m.AddTransaction(transferTx("tx-2")))
	err := m.AddTransaction(transferTx("tx-3"))
	var fullErr *mempool.MempoolFullError
	require.ErrorAs(t, err, &fullErr)
	assert.Equal(t, 2, fullErr.CurrentCount)
}

func TestTransactionsForBlockPrioritizesMints(t *testing.T) {
	m := testMempool(t, &stubValidator{}, 10)
	require.NoError(t, m.AddTransaction(transferTx("tr-1")))
	require.NoError(t, m.AddTransaction(mintTx("mint-1")))
	require.NoError(t, m.AddTransaction(transferTx("tr-2")))
	require.NoError(t, m.AddTransaction(mintTx("mint-2")))
	txs := m.TransactionsForBlock(10)
	require.Len(t, txs, 4)
	// Mints first, FIFO within each class
	assert.Equal(t, "mint-1", txs[0].Id)
	assert.Equal(t, "mint-2", txs[1].Id)
	assert.Equal(t, "tr-1", txs[2].Id)
	assert.Equal(t, "tr-2", txs[3].Id)

	limited := m.TransactionsForBlock(3)
	require.Len(t, limited, 3)
	assert.Equal(t, "mint-1", limited[0].Id)
	assert.Equal(t, "mint-2", limited[1].Id)
	assert.Equal(t, "tr-1", limited[2].Id)
}

func TestRemoveTransaction(t *testing.T) {
	m := testMempool(t, &stubValidator{}, 10)
	require.NoError(t, m.AddTransaction(transferTx("tx-1")))
	require.NoError(t, m.AddTransaction(transferTx("tx-2")))
	m.RemoveTransaction("tx-1")
	assert.Equal(t, 1, m.Count())
	_, ok := m.GetTransaction("tx-1")
	assert.False(t, ok)
	_, ok = m.GetTransaction("tx-2")
	assert.True(t, ok)
	// Removing an unknown id is a no-op
	m.RemoveTransaction("tx-nope")
	assert.Equal(t, 1, m.Count())
}

func TestChainEventWorkerExitsOnBusStop(t *testing.T) {
	eventBus := event.NewEventBus(nil)
	m := mempool.NewMempool(mempool.MempoolConfig{
		Validator:       &stubValidator{},
		EventBus:        eventBus,
		MempoolCapacity: 10,
	})
	require.NoError(t, m.AddTransaction(transferTx("tx-1")))
	eventBus.Stop()
	goleak.VerifyNone(t)
}
