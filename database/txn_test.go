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

package database_test

import (
	"testing"

	"github.com/tabnet-io/tabnet/database"
	"github.com/tabnet-io/tabnet/database/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitConflictLeavesNoMetadata(t *testing.T) {
	db, err := database.New(&database.Config{DataDir: ""})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})

	// The losing transaction snapshots the reserved counter first, so the
	// winner's commit invalidates its read set
	loser := database.NewTxn(db, true)
	reserved, err := db.ReservedUnits(loser)
	require.NoError(t, err)
	require.NoError(t, db.ReservedUnitsSet(reserved+100, loser))

	winner := database.NewTxn(db, true)
	reserved, err = db.ReservedUnits(winner)
	require.NoError(t, err)
	require.NoError(t, db.ReservedUnitsSet(reserved+100, winner))
	require.NoError(t, db.NodeCreate(&models.Node{
		NodeId:        "node-winner",
		OwnerIdentity: "addr-a",
		Kind:          models.NodeKindSelfOperated,
		Active:        true,
	}, winner))
	require.NoError(t, winner.Commit())

	require.NoError(t, db.NodeCreate(&models.Node{
		NodeId:        "node-loser",
		OwnerIdentity: "addr-b",
		Kind:          models.NodeKindSelfOperated,
		Active:        true,
	}, loser))
	assert.ErrorIs(t, loser.Commit(), database.ErrConflict)

	// The conflicted commit leaves neither blob nor metadata state behind
	reserved, err = db.ReservedUnits(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), reserved)
	_, err = db.NodeByNodeId("node-winner", nil)
	assert.NoError(t, err)
	_, err = db.NodeByNodeId("node-loser", nil)
	assert.ErrorIs(t, err, models.ErrNodeNotFound)
}
