package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/value"
)

func signedEntries(t *testing.T, n int) []logentry.LogEntry {
	t.Helper()
	sig := newTestSigner(t)
	out := make([]logentry.LogEntry, n)
	for i := range out {
		e, err := sig.Sign("login", logentry.StringPtr("u1"),
			value.Object{"ip": value.String("1.2.3.4"), "n": value.Int(int64(i))},
			time.Date(2024, 5, 1, 9, 0, i, 0, time.UTC))
		require.NoError(t, err)
		out[i] = e
	}
	return out
}

func TestDeadLetterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dl.jsonl")
	dl, err := NewDeadLetterFile(path)
	require.NoError(t, err)

	entries := signedEntries(t, 3)
	require.NoError(t, dl.Write(context.Background(), entries[:2]))
	require.NoError(t, dl.Write(context.Background(), entries[2:]))
	require.NoError(t, dl.Close())

	got, malformed, err := ReadDeadLetters(path)
	require.NoError(t, err)
	assert.Zero(t, malformed)
	require.Len(t, got, 3)

	sig := newTestSigner(t)
	for i, e := range got {
		assert.Equal(t, entries[i].ID, e.ID)
		assert.True(t, sig.Verify(e))
	}
}

func TestNewDeadLetterFileRequiresPath(t *testing.T) {
	_, err := NewDeadLetterFile("")
	assert.ErrorIs(t, err, os.ErrInvalid)
}

func TestReadDeadLettersMissingFile(t *testing.T) {
	got, malformed, err := ReadDeadLetters(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, malformed)
}

func TestReadDeadLettersSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dl.jsonl")
	dl, err := NewDeadLetterFile(path)
	require.NoError(t, err)
	require.NoError(t, dl.Write(context.Background(), signedEntries(t, 1)))
	require.NoError(t, dl.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n{}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, malformed, err := ReadDeadLetters(path)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 2, malformed)
}

func TestReplayIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	path := filepath.Join(t.TempDir(), "dl.jsonl")
	dl, err := NewDeadLetterFile(path)
	require.NoError(t, err)

	entries := signedEntries(t, 4)
	entries[3].Action = "tampered"
	require.NoError(t, dl.Write(context.Background(), entries))
	require.NoError(t, dl.Close())

	sig := newTestSigner(t)
	for range 2 {
		res, err := Replay(context.Background(), path, st.Logs(), sig.Verify)
		require.NoError(t, err)
		assert.Equal(t, ReplayResult{Replayed: 3, Invalid: 1}, res)
	}

	n, err := st.Logs().Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
