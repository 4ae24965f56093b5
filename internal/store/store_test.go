package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func at(day, hour int) time.Time {
	return time.Date(2026, 10, day, hour, 0, 0, 0, time.UTC)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	assert.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	db := tempDB(t)
	require.NoError(t, db.Migrate(context.Background()))
}

func TestTimeLayout_SortsLexicographically(t *testing.T) {
	a := FormatTime(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	b := FormatTime(time.Date(2026, 1, 2, 3, 4, 5, 1, time.UTC))
	assert.Less(t, a, b)
	assert.True(t, ParseTime(b).Equal(time.Date(2026, 1, 2, 3, 4, 5, 1, time.UTC)))
	assert.True(t, ParseTime("garbage").IsZero())
}

func TestListArtifacts_Filters(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	seed := []UserArtifact{
		{ID: "h1", UserID: "u1", Type: "verse_highlight", Body: "h1", BookID: "ROM", Chapter: 8, CreatedAt: FormatTime(at(6, 9))},
		{ID: "h2", UserID: "u1", Type: "verse_highlight", Body: "h2", BookID: "ROM", Chapter: 5, CreatedAt: FormatTime(at(7, 9))},
		{ID: "n1", UserID: "u1", Type: "verse_note", Body: "n1", BookID: "ROM", Chapter: 8, CreatedAt: FormatTime(at(13, 9))},
		{ID: "x1", UserID: "u1", Type: "verse_note", Body: "x1", Status: StatusDeleted, CreatedAt: FormatTime(at(8, 9))},
		{ID: "o1", UserID: "u2", Type: "verse_note", Body: "other", CreatedAt: FormatTime(at(8, 9))},
	}
	for i := range seed {
		require.NoError(t, db.UpsertArtifact(ctx, &seed[i]))
	}

	tests := []struct {
		name string
		f    ArtifactFilter
		want []string
	}{
		{"user and status", ArtifactFilter{UserID: "u1"}, []string{"n1", "h2", "h1"}},
		{"types", ArtifactFilter{UserID: "u1", Types: []string{"verse_highlight"}}, []string{"h2", "h1"}},
		{"date bounds", ArtifactFilter{UserID: "u1", From: at(5, 0), To: at(12, 0)}, []string{"h2", "h1"}},
		{"chapter scope", ArtifactFilter{UserID: "u1", BookID: "ROM", Chapter: 8}, []string{"n1", "h1"}},
		{"oldest first with limit", ArtifactFilter{UserID: "u1", OldestFirst: true, Limit: 1}, []string{"h1"}},
		{"deleted", ArtifactFilter{UserID: "u1", Status: StatusDeleted}, []string{"x1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := db.ListArtifacts(ctx, tt.f)
			require.NoError(t, err)
			var ids []string
			for _, r := range rows {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestUpsertArtifact_EmbeddingRoundTrip(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	a := UserArtifact{UserID: "u1", Type: "journal_entry", Body: "grace"}
	a.SetVector([]float32{0.5, -0.25})
	require.NoError(t, db.UpsertArtifact(ctx, &a))
	require.NotEmpty(t, a.ID)

	got, err := db.GetArtifact(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.25}, got.Vector())

	rows, err := db.ListArtifacts(ctx, ArtifactFilter{UserID: "u1", WithEmbedding: true})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = db.GetArtifact(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadingSessions_AndRollups(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	for _, r := range []ReadingSession{
		{UserID: "u1", BookID: "ROM", BookName: "Romans", Chapter: 8, StartedAt: FormatTime(at(6, 7)), DurationSec: 600},
		{UserID: "u1", BookID: "ROM", BookName: "Romans", Chapter: 8, StartedAt: FormatTime(at(9, 7))},
		{UserID: "u1", BookID: "JHN", BookName: "John", Chapter: 3, StartedAt: FormatTime(at(10, 7))},
	} {
		require.NoError(t, db.RecordReadingSession(ctx, &r))
	}

	rows, err := db.ListReadingSessions(ctx, ReadingFilter{UserID: "u1", BookID: "ROM"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Started().Equal(at(9, 7)))

	rows, err = db.ListReadingSessions(ctx, ReadingFilter{UserID: "u1", From: at(10, 0)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "JHN", rows[0].BookID)

	rollups, err := db.ChapterRollups(ctx, "u1", "ROM")
	require.NoError(t, err)
	assert.Equal(t, 2, rollups[8].TimesRead)
	assert.Equal(t, FormatTime(at(9, 7)), rollups[8].LastReadAt)
}

func TestMemories_UpsertListDelete(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	m := DurableMemory{UserID: "u1", Kind: "preference", Key: "translation", Value: "ESV", Strength: 0.6}
	require.NoError(t, db.UpsertMemory(ctx, &m))
	weak := DurableMemory{UserID: "u1", Kind: "theme", Key: "anxiety", Value: "work stress", Strength: 0.1}
	require.NoError(t, db.UpsertMemory(ctx, &weak))

	// Lower strength does not weaken an existing memory; the value is replaced.
	again := DurableMemory{UserID: "u1", Kind: "preference", Key: "translation", Value: "NIV", Strength: 0.4}
	require.NoError(t, db.UpsertMemory(ctx, &again))

	got, err := db.ListMemories(ctx, "u1", 0.3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, m.ID, got[0].ID)
	assert.Equal(t, "NIV", got[0].Value)
	assert.InDelta(t, 0.6, got[0].Strength, 1e-9)

	require.NoError(t, db.DeleteMemory(ctx, "u1", m.ID))
	got, err = db.ListMemories(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "anxiety", got[0].Key)
}

func TestIncrementSignal_Decays(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	s, err := db.IncrementSignal(ctx, "u1", "theme", "grief", "lost my father", 1, at(1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count)
	assert.InDelta(t, 1.0, s.Score, 1e-9)

	// One half-life constant later the old score has decayed by 1/e.
	later := at(1, 0).Add(SignalHalfLife)
	s, err = db.IncrementSignal(ctx, "u1", "theme", "grief", "lost my father", 1, later)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count)
	assert.InDelta(t, 1.0+0.36787944, s.Score, 1e-6)

	got, err := db.GetSignal(ctx, "u1", "theme", "grief")
	require.NoError(t, err)
	assert.Equal(t, s, got)

	_, err = db.GetSignal(ctx, "u1", "theme", "none")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStageArtifacts_UpsertAndExpire(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	row := StageArtifactRow{
		RunID: "r1", Stage: "INGRESS", TraceID: "t1", UserID: "u1", Mode: "debug",
		SchemaVersion: 1, PipelineVersion: "v", CreatedAt: FormatTime(at(1, 0)),
		DurationMS: 3, Summary: "first", Payload: "{}", Stats: "{}", ExpiresAt: FormatTime(at(8, 0)),
	}
	require.NoError(t, db.UpsertStageArtifact(ctx, row))
	row.Summary = "rerun"
	require.NoError(t, db.UpsertStageArtifact(ctx, row))

	got, err := db.GetStageArtifact(ctx, "r1", "INGRESS")
	require.NoError(t, err)
	assert.Equal(t, "rerun", got.Summary)

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Stages)

	n, err := db.DeleteExpiredStageArtifacts(ctx, at(7, 0))
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = db.DeleteExpiredStageArtifacts(ctx, at(8, 0))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = db.GetStageArtifact(ctx, "r1", "INGRESS")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVaultEntries(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	row := VaultRow{RunID: "r1", Stage: "INGRESS", Ciphertext: "YQ==", IV: "aXY=", Tag: "dGFn",
		CreatedAt: FormatTime(at(1, 0)), ExpiresAt: FormatTime(at(8, 0))}
	require.NoError(t, db.UpsertVaultEntry(ctx, row))

	got, err := db.GetVaultEntry(ctx, "r1", "INGRESS")
	require.NoError(t, err)
	assert.Equal(t, row, got)

	n, err := db.DeleteExpiredVaultEntries(ctx, at(9, 0))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
