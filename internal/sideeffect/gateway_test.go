package sideeffect

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
	"github.com/danielpatrickdp/companion-pipeline/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "gw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestForRun(t *testing.T) {
	live := NewStore(testDB(t))

	prod := runctx.New(runctx.Input{UserID: "u1"})
	assert.Same(t, live, ForRun(prod, live))

	debug := runctx.New(runctx.Input{UserID: "u1", Mode: runctx.ModeDebug})
	gw := ForRun(debug, live)
	assert.False(t, gw.Live())
	assert.IsType(t, &Noop{}, gw)

	enabled := runctx.SideEffectsEnabled
	allow := runctx.WritesAllow
	override := runctx.New(runctx.Input{Mode: runctx.ModeDebug, SideEffects: &enabled, Writes: &allow})
	assert.True(t, ForRun(override, live).Live())

	assert.False(t, ForRun(prod, nil).Live())
}

func TestStore_Mutates(t *testing.T) {
	db := testDB(t)
	gw := NewStore(db)
	ctx := context.Background()

	m, err := gw.UpsertMemory(ctx, store.DurableMemory{UserID: "u1", Kind: "preference", Key: "translation", Value: "ESV", Strength: 0.5})
	require.NoError(t, err)
	require.NotEmpty(t, m.ID)

	again, err := gw.UpsertMemory(ctx, store.DurableMemory{UserID: "u1", Kind: "preference", Key: "translation", Value: "NIV", Strength: 0.7})
	require.NoError(t, err)
	assert.Equal(t, m.ID, again.ID)
	assert.InDelta(t, 0.7, again.Strength, 1e-9)

	sig, err := gw.IncrementSignal(ctx, "u1", "theme", "grief", "lost my dad", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, sig.Count)

	require.NoError(t, gw.DeleteMemory(ctx, "u1", m.ID))
	left, err := db.ListMemories(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestNoop_PerformsZeroMutations(t *testing.T) {
	db := testDB(t)
	core, logs := observer.New(zap.DebugLevel)
	gw := NewNoop(zap.New(core))
	ctx := context.Background()

	_, err := gw.UpsertMemory(ctx, store.DurableMemory{UserID: "u1", Kind: "preference", Key: "k", Value: "v", Strength: 1})
	require.NoError(t, err)
	_, err = gw.IncrementSignal(ctx, "u1", "theme", "grief", "x", 1)
	require.NoError(t, err)
	require.NoError(t, gw.DeleteMemory(ctx, "u1", "m1"))

	assert.EqualValues(t, 3, gw.Calls())
	assert.Equal(t, 3, logs.FilterMessage("sideeffect.noop").Len())

	mems, err := db.ListMemories(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, mems)
	_, err = db.GetSignal(ctx, "u1", "theme", "grief")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
