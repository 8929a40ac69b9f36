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

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tabnet-io/tabnet/database/models"
)

// MetadataStore is a SQLite-backed store for registry-style records that
// are queried rather than fetched by exact key: the node registry, KYC
// records, validator registry, governance proposals and votes, and
// conversion rounds with their allocations.
type MetadataStore struct {
	db          *gorm.DB
	logger      *slog.Logger
	timerVacuum *time.Timer
	timerMutex  sync.Mutex
	dataDir     string
	closed      bool
	vacuumWG    sync.WaitGroup
}

// NewMetadataStore creates a SQLite metadata store. Uses an in-memory
// database if dataDir is empty.
func NewMetadataStore(
	dataDir string,
	logger *slog.Logger,
) (*MetadataStore, error) {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var metadataDb *gorm.DB
	var err error
	if dataDir == "" {
		// Use in-memory database when no data directory is specified, useful for testing
		// cache=shared allows multiple connections to share the same in-memory database
		metadataDb, err = gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
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
			if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		// Open sqlite DB
		metadataDbPath := filepath.Join(
			dataDir,
			"metadata.sqlite",
		)
		// WAL journal mode, disable sync on write, increase cache size to 50MB (from 2MB)
		metadataConnOpts := "_pragma=journal_mode(WAL)&_pragma=sync(OFF)&_pragma=cache_size(-50000)"
		metadataDb, err = gorm.Open(
			sqlite.Open(
				fmt.Sprintf("file:%s?%s", metadataDbPath, metadataConnOpts),
			),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	}
	m := &MetadataStore{
		db:      metadataDb,
		dataDir: dataDir,
		logger:  logger,
	}
	// Configure tracing for GORM
	if err := m.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return m, err
	}
	// Schedule daily database vacuum to free unused space
	m.scheduleDailyVacuum()
	// Create table schemas
	for _, model := range models.MigrateModels {
		m.logger.Debug(
			fmt.Sprintf("creating table: %#v", model),
			"component", "database",
		)
		if err := m.db.AutoMigrate(model); err != nil {
			return m, err
		}
	}
	return m, nil
}

// DB returns the gorm database handle
func (m *MetadataStore) DB() *gorm.DB {
	return m.db
}

func (m *MetadataStore) runVacuum() error {
	m.timerMutex.Lock()
	if m.dataDir == "" || m.closed {
		m.timerMutex.Unlock()
		return nil
	}
	// Track this vacuum operation while we know the store is open
	m.vacuumWG.Add(1)
	m.timerMutex.Unlock()
	defer m.vacuumWG.Done()
	if result := m.db.Raw("VACUUM"); result.Error != nil {
		return result.Error
	}
	return nil
}

// scheduleDailyVacuum schedules a daily vacuum operation
func (m *MetadataStore) scheduleDailyVacuum() {
	m.timerMutex.Lock()
	defer m.timerMutex.Unlock()
	if m.closed {
		return
	}
	if m.timerVacuum != nil {
		m.timerVacuum.Stop()
	}
	daily := 24 * time.Hour
	f := func() {
		m.logger.Debug(
			"running vacuum on sqlite metadata database",
			"component", "database",
		)
		// schedule next run
		defer m.scheduleDailyVacuum()
		if err := m.runVacuum(); err != nil {
			m.logger.Error(
				fmt.Sprintf("failed to vacuum metadata database: %s", err),
				"component", "database",
			)
		}
	}
	m.timerVacuum = time.AfterFunc(daily, f)
}

// Close stops background timers and closes the underlying connection
func (m *MetadataStore) Close() error {
	m.timerMutex.Lock()
	m.closed = true
	if m.timerVacuum != nil {
		m.timerVacuum.Stop()
		m.timerVacuum = nil
	}
	m.timerMutex.Unlock()
	// Wait for any in-flight vacuum to finish
	m.vacuumWG.Wait()
	sqlDb, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}
