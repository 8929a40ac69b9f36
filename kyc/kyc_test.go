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

package kyc_test

import (
	"testing"
	"time"

	"github.com/tabnet-io/tabnet/database"
	"github.com/tabnet-io/tabnet/database/models"
	"github.com/tabnet-io/tabnet/event"
	"github.com/tabnet-io/tabnet/kyc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGate(t *testing.T, validity time.Duration) (*kyc.Gate, *database.Database) {
	t.Helper()
	db, err := database.New(&database.Config{DataDir: ""})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})
	gate := kyc.NewGate(kyc.GateConfig{
		Database:       db,
		ValidityWindow: validity,
	})
	return gate, db
}

func TestGateUnknownIdentity(t *testing.T) {
	gate, _ := testGate(t, 0)
	status, err := gate.Status("nobody")
	require.NoError(t, err)
	assert.Equal(t, kyc.StatusNotRequired, status)
	verified, err := gate.IsVerified("nobody")
	require.NoError(t, err)
	assert.False(t, verified)
}

func TestGateLegalTransitions(t *testing.T) {
	gate, _ := testGate(t, 0)
	steps := []kyc.Status{
		kyc.StatusPending,
		kyc.StatusRejected,
		kyc.StatusPending,
		kyc.StatusVerified,
		kyc.StatusExpired,
		kyc.StatusPending,
		kyc.StatusVerified,
	}
	for _, next := range steps {
		require.NoError(t, gate.SetStatus("alice", next))
		status, err := gate.Status("alice")
		require.NoError(t, err)
		assert.Equal(t, next, status)
	}
	verified, err := gate.IsVerified("alice")
	require.NoError(t, err)
	assert.True(t, verified)
}

func TestGateIllegalTransitions(t *testing.T) {
	gate, _ := testGate(t, 0)
	// NotRequired can only go to Pending
	err := gate.SetStatus("bob", kyc.StatusVerified)
	assert.ErrorIs(t, err, kyc.ErrInvalidTransition)
	require.NoError(t, gate.SetStatus("bob", kyc.StatusPending))
	// Pending cannot expire
	err = gate.SetStatus("bob", kyc.StatusExpired)
	assert.ErrorIs(t, err, kyc.ErrInvalidTransition)
	require.NoError(t, gate.SetStatus("bob", kyc.StatusRejected))
	// Rejected cannot jump straight to Verified
	err = gate.SetStatus("bob", kyc.StatusVerified)
	assert.ErrorIs(t, err, kyc.ErrInvalidTransition)
	status, err := gate.Status("bob")
	require.NoError(t, err)
	assert.Equal(t, kyc.StatusRejected, status)
}

func TestGateRepeatedDecision(t *testing.T) {
	gate, _ := testGate(t, 0)
	require.NoError(t, gate.SetStatus("carol", kyc.StatusPending))
	// Same status is a no-op rather than an error
	require.NoError(t, gate.SetStatus("carol", kyc.StatusPending))
}

func TestGateStatusChangeEvent(t *testing.T) {
	eventBus := event.NewEventBus(nil)
	defer eventBus.Stop()
	db, err := database.New(&database.Config{DataDir: ""})
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck
	gate := kyc.NewGate(kyc.GateConfig{
		Database: db,
		EventBus: eventBus,
	})
	_, subCh := eventBus.Subscribe(kyc.StatusChangeEventType)
	require.NoError(t, gate.SetStatus("dave", kyc.StatusPending))
	select {
	case evt := <-subCh:
		payload, ok := evt.Data.(kyc.StatusChangeEvent)
		require.True(t, ok)
		assert.Equal(t, "dave", payload.Identity)
		assert.Equal(t, kyc.StatusNotRequired, payload.OldStatus)
		assert.Equal(t, kyc.StatusPending, payload.NewStatus)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status change event")
	}
}

func TestGateExpireStale(t *testing.T) {
	gate, db := testGate(t, 24*time.Hour)
	require.NoError(t, gate.SetStatus("old", kyc.StatusPending))
	require.NoError(t, gate.SetStatus("old", kyc.StatusVerified))
	require.NoError(t, gate.SetStatus("new", kyc.StatusPending))
	require.NoError(t, gate.SetStatus("new", kyc.StatusVerified))
	// Backdate one verification past the validity window
	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, db.KycRecordUpsert(&models.KycRecord{
		Identity:   "old",
		Status:     string(kyc.StatusVerified),
		VerifiedAt: &stale,
		UpdatedAt:  stale,
	}, nil))
	expired, err := gate.ExpireStale()
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	status, err := gate.Status("old")
	require.NoError(t, err)
	assert.Equal(t, kyc.StatusExpired, status)
	status, err = gate.Status("new")
	require.NoError(t, err)
	assert.Equal(t, kyc.StatusVerified, status)
}
