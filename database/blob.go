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
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const (
	blobGcInterval     = 5 * time.Minute
	blobGcDiscardRatio = 0.5
)

// BlobStore stores fixed-layout records (sales, balances, blocks, claim
// index) in badger. Records are not persisted when no data directory is
// configured.
type BlobStore struct {
	db       *badger.DB
	logger   *slog.Logger
	gcTicker *time.Ticker
	gcStopCh chan struct{}
	dataDir  string
	gcWg     sync.WaitGroup
}

// NewBlobStore opens the badger store under dataDir, or an in-memory store
// when dataDir is empty (useful for testing)
func NewBlobStore(dataDir string, logger *slog.Logger) (*BlobStore, error) {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	b := &BlobStore{
		logger:  logger,
		dataDir: dataDir,
	}
	var blobDb *badger.DB
	var err error
	if dataDir == "" {
		// No dataDir, use in-memory config
		badgerOpts := badger.DefaultOptions("").
			WithLogger(newBadgerLogger(logger)).
			// The default INFO logging is a bit verbose
			WithLoggingLevel(badger.WARNING).
			WithInMemory(true)
		blobDb, err = badger.Open(badgerOpts)
		if err != nil {
			return nil, err
		}
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			// Create data directory
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		blobDir := filepath.Join(
			dataDir,
			"blob",
		)
		badgerOpts := badger.DefaultOptions(blobDir).
			WithLogger(newBadgerLogger(logger)).
			WithLoggingLevel(badger.WARNING).
			WithCompression(options.Snappy)
		blobDb, err = badger.Open(badgerOpts)
		if err != nil {
			return nil, err
		}
		// Value log GC only applies to disk-backed stores
		b.gcTicker = time.NewTicker(blobGcInterval)
		b.gcStopCh = make(chan struct{})
		b.gcWg.Add(1)
		go b.gcLoop(b.gcTicker, b.gcStopCh)
	}
	b.db = blobDb
	return b, nil
}

func (b *BlobStore) gcLoop(t *time.Ticker, stop <-chan struct{}) {
	defer b.gcWg.Done()
	for {
		select {
		case <-t.C:
		again:
			err := b.db.RunValueLogGC(blobGcDiscardRatio)
			if err != nil {
				// Log any actual errors
				if !errors.Is(err, badger.ErrNoRewrite) {
					b.logger.Warn(
						fmt.Sprintf("blob DB: GC failure: %s", err),
						"component", "database",
					)
				}
			} else {
				// Run it again if it just ran successfully
				goto again
			}
		case <-stop:
			return
		}
	}
}

// DB returns the database handle
func (b *BlobStore) DB() *badger.DB {
	return b.db
}

// NewTransaction creates a new badger transaction
func (b *BlobStore) NewTransaction(update bool) *badger.Txn {
	return b.db.NewTransaction(update)
}

// Close stops the GC loop and closes the database handle
func (b *BlobStore) Close() error {
	if b.gcTicker != nil {
		b.gcTicker.Stop()
		if b.gcStopCh != nil {
			close(b.gcStopCh)
			b.gcStopCh = nil
		}
		// Wait for GC goroutine to finish
		b.gcWg.Wait()
		b.gcTicker = nil
	}
	return b.db.Close()
}
