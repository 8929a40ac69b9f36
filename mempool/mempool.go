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

package mempool

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tabnet-io/tabnet/chain"
	"github.com/tabnet-io/tabnet/database"
	"github.com/tabnet-io/tabnet/event"
	"github.com/tabnet-io/tabnet/ledger"
)

const (
	AddTransactionEventType    event.EventType = "mempool.add_tx"
	RemoveTransactionEventType event.EventType = "mempool.remove_tx"
)

type AddTransactionEvent struct {
	Id   string
	Kind ledger.TxKind
}

type RemoveTransactionEvent struct {
	Id string
}

type MempoolTransaction struct {
	LastSeen time.Time
	Tx       ledger.Tx
}

// TxValidator defines the interface for transaction validation needed by
// the mempool. The ledger implements it.
type TxValidator interface {
	ValidateTx(tx ledger.Tx, txn *database.Txn) error
}

type MempoolConfig struct {
	PromRegistry prometheus.Registerer
	Validator    TxValidator
	Logger       *slog.Logger
	EventBus     *event.EventBus
	// MempoolCapacity bounds the number of queued transactions
	MempoolCapacity int
}

type Mempool struct {
	config  MempoolConfig
	metrics struct {
		txsProcessedNum prometheus.Counter
		txsInMempool    prometheus.Gauge
	}
	validator    TxValidator
	logger       *slog.Logger
	eventBus     *event.EventBus
	transactions []*MempoolTransaction
	sync.RWMutex
}

type MempoolFullError struct {
	CurrentCount int
	Capacity     int
}

func (e *MempoolFullError) Error() string {
	return fmt.Sprintf(
		"mempool full: current count=%d, capacity=%d",
		e.CurrentCount,
		e.Capacity,
	)
}

func NewMempool(config MempoolConfig) *Mempool {
	m := &Mempool{
		eventBus:  config.EventBus,
		validator: config.Validator,
		config:    config,
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		m.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		m.logger = config.Logger
	}
	// Subscribe to chain update events
	go m.processChainEvents()
	// Init metrics
	promautoFactory := promauto.With(config.PromRegistry)
	m.metrics.txsProcessedNum = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "tabnet_mempool_txs_processed_total",
			Help: "total transactions processed",
		},
	)
	m.metrics.txsInMempool = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "tabnet_mempool_txs",
		Help: "current count of mempool transactions",
	})
	return m
}

func (m *Mempool) processChainEvents() {
	if m.eventBus == nil {
		return
	}
	chainUpdateSubId, chainUpdateChan := m.eventBus.Subscribe(
		chain.ChainUpdateEventType,
	)
	defer func() {
		m.eventBus.Unsubscribe(chain.ChainUpdateEventType, chainUpdateSubId)
	}()
	lastValidationTime := time.Now()
	var ok bool
	for {
		// Wait for chain event
		_, ok = <-chainUpdateChan
		if !ok {
			return
		}
		// Only purge once every 30 seconds when there are more blocks available
		if time.Since(lastValidationTime) < 30*time.Second &&
			len(chainUpdateChan) > 0 {
			continue
		}
		lastValidationTime = time.Now()
		m.Lock()
		// Re-validate each TX in mempool. A mint whose sale was committed
		// in the new block drops out here. We iterate backward to avoid
		// issues with shifting indexes when deleting.
		for i := len(m.transactions) - 1; i >= 0; i-- {
			tx := m.transactions[i]
			if err := m.validator.ValidateTx(tx.Tx, nil); err != nil {
				m.removeTransactionByIndex(i)
				m.logger.Debug(
					"removed transaction after re-validation failure",
					"component", "mempool",
					"tx_id", tx.Tx.Id,
					"error", err,
				)
			}
		}
		m.Unlock()
	}
}

// AddTransaction validates and queues a transaction. Resubmitting a known
// transaction id refreshes its last-seen time instead of duplicating it.
func (m *Mempool) AddTransaction(tx ledger.Tx) error {
	if err := m.validator.ValidateTx(tx, nil); err != nil {
		return err
	}
	entry := MempoolTransaction{
		Tx:       tx,
		LastSeen: time.Now(),
	}
	m.Lock()
	defer m.Unlock()
	// Update last seen for existing TX
	existingTx := m.getTransaction(tx.Id)
	if existingTx != nil {
		existingTx.LastSeen = time.Now()
		m.logger.Debug(
			"updated last seen for transaction",
			"component", "mempool",
			"tx_id", tx.Id,
		)
		return nil
	}
	// Enforce mempool capacity
	if m.config.MempoolCapacity > 0 &&
		len(m.transactions) >= m.config.MempoolCapacity {
		return &MempoolFullError{
			CurrentCount: len(m.transactions),
			Capacity:     m.config.MempoolCapacity,
		}
	}
	// Add transaction record
	m.transactions = append(m.transactions, &entry)
	m.logger.Debug(
		"added transaction",
		"component", "mempool",
		"tx_id", tx.Id,
		"tx_kind", tx.Kind,
	)
	m.metrics.txsProcessedNum.Inc()
	m.metrics.txsInMempool.Inc()
	// Generate event
	if m.eventBus != nil {
		m.eventBus.Publish(
			AddTransactionEventType,
			event.NewEvent(
				AddTransactionEventType,
				AddTransactionEvent{
					Id:   tx.Id,
					Kind: tx.Kind,
				},
			),
		)
	}
	return nil
}

func (m *Mempool) GetTransaction(txId string) (MempoolTransaction, bool) {
	m.RLock()
	defer m.RUnlock()
	ret := m.getTransaction(txId)
	if ret == nil {
		return MempoolTransaction{}, false
	}
	return *ret, true
}

func (m *Mempool) Transactions() []MempoolTransaction {
	m.RLock()
	defer m.RUnlock()
	ret := make([]MempoolTransaction, len(m.transactions))
	for i := range m.transactions {
		ret[i] = *m.transactions[i]
	}
	return ret
}

// TransactionsForBlock returns up to max transactions for block assembly.
// Sale mints go first to bound claim latency; within each class the queue
// stays FIFO.
func (m *Mempool) TransactionsForBlock(max int) []ledger.Tx {
	m.RLock()
	defer m.RUnlock()
	ret := make([]ledger.Tx, 0, max)
	for _, entry := range m.transactions {
		if len(ret) >= max {
			break
		}
		if entry.Tx.IsMint() {
			ret = append(ret, entry.Tx)
		}
	}
	for _, entry := range m.transactions {
		if len(ret) >= max {
			break
		}
		if !entry.Tx.IsMint() {
			ret = append(ret, entry.Tx)
		}
	}
	return ret
}

func (m *Mempool) Count() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.transactions)
}

func (m *Mempool) getTransaction(txId string) *MempoolTransaction {
	for _, tx := range m.transactions {
		if tx.Tx.Id == txId {
			return tx
		}
	}
	return nil
}

func (m *Mempool) RemoveTransaction(txId string) {
	m.Lock()
	defer m.Unlock()
	if m.removeTransaction(txId) {
		m.logger.Debug(
			"removed transaction",
			"component", "mempool",
			"tx_id", txId,
		)
	}
}

func (m *Mempool) removeTransaction(txId string) bool {
	for txIdx, tx := range m.transactions {
		if tx.Tx.Id == txId {
			return m.removeTransactionByIndex(txIdx)
		}
	}
	return false
}

func (m *Mempool) removeTransactionByIndex(txIdx int) bool {
	if txIdx >= len(m.transactions) {
		return false
	}
	tx := m.transactions[txIdx]
	m.transactions = slices.Delete(
		m.transactions,
		txIdx,
		txIdx+1,
	)
	m.metrics.txsInMempool.Dec()
	// Generate event
	if m.eventBus != nil {
		m.eventBus.Publish(
			RemoveTransactionEventType,
			event.NewEvent(
				RemoveTransactionEventType,
				RemoveTransactionEvent{
					Id: tx.Tx.Id,
				},
			),
		)
	}
	return true
}
