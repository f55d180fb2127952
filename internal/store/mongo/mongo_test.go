package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/query"
	"github.com/roach88/audittrail/internal/store"
	"github.com/roach88/audittrail/internal/value"
)

// openTestStore connects to AUDITTRAIL_TEST_MONGO_URI using a throwaway
// database. Tests are skipped when the variable is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("AUDITTRAIL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("AUDITTRAIL_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	dbName := "audittrail_test_" + uuid.NewString()[:8]
	s, err := Open(ctx, Options{URI: uri, Database: dbName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.client.Database(dbName).Drop(context.Background())
		_ = s.Close()
	})
	return s
}

func TestOpenUnreachable(t *testing.T) {
	_, err := Open(context.Background(), Options{
		URI:      "mongodb://127.0.0.1:1",
		Database: "x",
		Timeout:  200 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestCollectionIntegration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	var batch []logentry.LogEntry
	for i, action := range []string{"login", "logout", "signup"} {
		batch = append(batch, logentry.LogEntry{
			ID:        action,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Action:    action,
			UserID:    logentry.StringPtr("u1"),
			Details:   value.Object{"i": value.Int(int64(i))},
			Signature: "sig-" + action,
		})
	}

	require.NoError(t, s.Logs().InsertBatch(ctx, batch))
	require.NoError(t, s.Logs().InsertBatch(ctx, batch), "replayed batch must be ignored")

	n, err := s.Logs().Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	cur, err := s.Logs().Find(ctx, query.Filter{ActionContains: "LOG"}.Predicate(), query.Options{})
	require.NoError(t, err)
	got, err := store.Collect(ctx, cur)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "logout", got[0].ID)
	assert.Equal(t, "login", got[1].ID)

	require.NoError(t, s.Archive().Upsert(ctx, batch[0]))
	require.NoError(t, s.Archive().Upsert(ctx, batch[0]))
	require.NoError(t, s.Logs().DeleteOne(ctx, batch[0].ID))

	archived, err := s.Archive().Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), archived)
}
