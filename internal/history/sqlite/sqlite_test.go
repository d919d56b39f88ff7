package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devloop/internal/history"
)

func sampleEvents() []history.Event {
	now := time.Now().UTC()
	return []history.Event{
		{Type: history.EventStepStart, OccurredAt: now, RunID: "run-1", Pipeline: "build", Name: "Build web code"},
		{Type: history.EventStepFailed, OccurredAt: now, RunID: "run-1", Pipeline: "build", Name: "Build web code", PID: 321, ExitCode: 2, Error: "exit status 2", DurationMS: 1500},
	}
}

func TestSQLiteSink_File(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + dbPath)
	require.NoError(t, err)
	defer func() { assert.NoError(t, sink.Close()) }()

	ctx := context.Background()
	for _, e := range sampleEvents() {
		require.NoError(t, sink.Send(ctx, e))
	}

	var count int
	require.NoError(t, sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+history.Table+" WHERE run_id = ?", "run-1").Scan(&count))
	assert.Equal(t, 2, count)

	var code int
	var errText string
	require.NoError(t, sink.db.QueryRowContext(ctx,
		"SELECT exit_code, error FROM "+history.Table+" WHERE event = ?", string(history.EventStepFailed)).Scan(&code, &errText))
	assert.Equal(t, 2, code)
	assert.Equal(t, "exit status 2", errText)
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	require.NoError(t, sink.Send(ctx, sampleEvents()[0]))

	var errText *string
	require.NoError(t, sink.db.QueryRowContext(ctx, "SELECT error FROM "+history.Table).Scan(&errText))
	assert.Nil(t, errText, "empty error is stored as NULL")
}

func TestSQLiteSink_SchemaIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "again.db")
	first, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(dbPath)
	require.NoError(t, err)
	assert.NoError(t, second.Close())
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	_, err := New("   ")
	assert.Error(t, err)
}
