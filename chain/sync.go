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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// BlockSource serves blocks for chain sync, starting at a given height.
// An empty batch means the source has nothing past that height.
type BlockSource interface {
	FetchBlocks(ctx context.Context, fromHeight uint64, max int) ([]Block, error)
}

// SyncerConfig holds configuration for the chain syncer
type SyncerConfig struct {
	Logger    *slog.Logger
	Chain     *Chain
	Source    BlockSource
	BatchSize int
}

// Syncer pulls blocks from a peer source and appends them one at a time.
// Each block is validated before it is applied; sync stops at the first
// invalid block so a malicious or forked peer can never land a partial
// batch.
type Syncer struct {
	config SyncerConfig
	logger *slog.Logger
}

func NewSyncer(config SyncerConfig) *Syncer {
	s := &Syncer{
		config: config,
		logger: config.Logger,
	}
	if s.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if s.config.BatchSize <= 0 {
		s.config.BatchSize = 50
	}
	return s
}

// Sync catches the local chain up to the source. It returns the number of
// blocks appended. Cancelling the context stops sync between blocks, so a
// higher-priority local proposal never waits on peer I/O.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	appended := 0
	for {
		if err := ctx.Err(); err != nil {
			return appended, err
		}
		tip := s.config.Chain.Tip()
		blocks, err := s.config.Source.FetchBlocks(
			ctx,
			tip.Height+1,
			s.config.BatchSize,
		)
		if err != nil {
			return appended, fmt.Errorf("fetch blocks: %w", err)
		}
		if len(blocks) == 0 {
			return appended, nil
		}
		for _, block := range blocks {
			if err := ctx.Err(); err != nil {
				return appended, err
			}
			if err := s.config.Chain.AddBlock(block); err != nil {
				var notFit BlockNotFitChainTipError
				if errors.As(err, &notFit) {
					s.logger.Warn(
						"sync stopped at block that does not extend tip",
						"component", "chain",
						"height", block.Height,
						"error", err,
					)
				} else {
					s.logger.Warn(
						"sync stopped at invalid block",
						"component", "chain",
						"height", block.Height,
						"error", err,
					)
				}
				return appended, err
			}
			appended++
		}
	}
}
