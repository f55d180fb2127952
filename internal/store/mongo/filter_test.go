package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/query"
)

func TestCompileFilter(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	frac := ts.Add(400 * time.Millisecond)

	tests := []struct {
		name string
		pred query.Predicate
		want bson.D
	}{
		{"nil", nil, bson.D{}},
		{"empty and", query.And{}, bson.D{}},
		{"equals", query.Equals{Field: query.FieldUserID, Value: "u1"}, bson.D{{Key: "user_id", Value: "u1"}}},
		{
			"contains escapes regex",
			query.ContainsFold{Field: query.FieldAction, Substring: "log.in"},
			bson.D{{Key: "action", Value: primitive.Regex{Pattern: `log\.in`, Options: "i"}}},
		},
		{
			"in",
			query.In{Field: query.FieldAction, Values: []string{"a", "b"}},
			bson.D{{Key: "action", Value: bson.D{{Key: "$in", Value: []string{"a", "b"}}}}},
		},
		{
			"empty in",
			query.In{Field: query.FieldAction},
			bson.D{{Key: "action", Value: bson.D{{Key: "$in", Value: []string{}}}}},
		},
		{
			"not in",
			query.NotIn{Field: query.FieldAction, Values: []string{"a"}},
			bson.D{{Key: "action", Value: bson.D{{Key: "$nin", Value: []string{"a"}}}}},
		},
		{
			"gte rounds up",
			query.TimeGTE{Time: frac},
			bson.D{{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: ts.Add(time.Second)}}}},
		},
		{
			"lte rounds down",
			query.TimeLTE{Time: frac},
			bson.D{{Key: "timestamp", Value: bson.D{{Key: "$lte", Value: ts}}}},
		},
		{
			"lt",
			query.TimeLT{Time: ts},
			bson.D{{Key: "timestamp", Value: bson.D{{Key: "$lt", Value: ts}}}},
		},
		{
			"single child and unwraps",
			query.And{Predicates: []query.Predicate{query.Equals{Field: query.FieldAction, Value: "x"}}},
			bson.D{{Key: "action", Value: "x"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := compileFilter(tt.pred)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileFilterFromFilter(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	f := query.Filter{UserID: logentry.StringPtr("u1"), ActionContains: "log", Start: &start, End: &end}

	got, err := compileFilter(f.Predicate())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "$and", got[0].Key)
	clauses, ok := got[0].Value.(bson.A)
	require.True(t, ok)
	assert.Len(t, clauses, 4)
}
