package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/value"
)

func TestDocumentRoundTrip(t *testing.T) {
	e := logentry.LogEntry{
		ID:        "id-1",
		Timestamp: time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC),
		Action:    "login",
		UserID:    logentry.StringPtr("u1"),
		Details: value.Object{
			"ip":     value.String("1.2.3.4"),
			"count":  value.Int(1 << 40),
			"ratio":  value.Float(0.75),
			"ok":     value.Bool(true),
			"none":   value.Null{},
			"tags":   value.Array{value.String("a"), value.Int(2)},
			"nested": value.Object{"k": value.String("v")},
		},
		Signature: "sig",
	}

	doc, err := toDocument(e)
	require.NoError(t, err)

	// Through the BSON codec, as the driver would.
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var decoded document
	require.NoError(t, bson.Unmarshal(raw, &decoded))

	back, err := fromDocument(decoded)
	require.NoError(t, err)

	want, err := e.SigningPayload()
	require.NoError(t, err)
	got, err := back.SigningPayload()
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
	assert.Equal(t, e.Signature, back.Signature)
}

func TestDocumentAnonymousUser(t *testing.T) {
	e := logentry.LogEntry{ID: "id-2", Timestamp: time.Unix(1700000000, 0).UTC(), Action: "x"}

	doc, err := toDocument(e)
	require.NoError(t, err)
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var decoded document
	require.NoError(t, bson.Unmarshal(raw, &decoded))

	back, err := fromDocument(decoded)
	require.NoError(t, err)
	assert.Nil(t, back.UserID)
	assert.Equal(t, value.Object{}, back.Details)
}

func TestToDocumentRejectsNonFinite(t *testing.T) {
	var zero float64
	e := logentry.LogEntry{ID: "id-3", Details: value.Object{"f": value.Float(zero / zero)}}
	_, err := toDocument(e)
	assert.Error(t, err)
}
