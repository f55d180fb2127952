package logentry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/audittrail/internal/testutil"
	"github.com/roach88/audittrail/internal/value"
)

func TestCanonicalTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"utc", time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC), "2024-06-01 12:30:45+00:00"},
		{"microseconds dropped", time.Date(2024, 6, 1, 12, 30, 45, 999999000, time.UTC), "2024-06-01 12:30:45+00:00"},
		{"offset normalized", time.Date(2024, 6, 1, 14, 30, 45, 0, time.FixedZone("CEST", 7200)), "2024-06-01 12:30:45+00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalTimestamp(tt.in))
		})
	}
}

func TestSigningPayloadGolden(t *testing.T) {
	e := LogEntry{
		ID:        "0190f5c2-0000-7000-8000-000000000001",
		Timestamp: time.Date(2024, 6, 1, 12, 30, 45, 123456000, time.UTC),
		Action:    "login",
		UserID:    StringPtr("u1"),
		Details:   value.Object{"ip": value.String("1.2.3.4")},
		Signature: "ignored",
	}

	payload, err := e.SigningPayload()
	require.NoError(t, err)
	testutil.AssertGolden(t, "signing_payload", payload)
}

func TestSigningPayloadAnonymous(t *testing.T) {
	e := LogEntry{
		ID:        "0190f5c2-0000-7000-8000-000000000002",
		Timestamp: time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC),
		Action:    "system_start",
	}

	payload, err := e.SigningPayload()
	require.NoError(t, err)
	testutil.AssertGolden(t, "signing_payload_anonymous", payload)
}

func TestSigningPayloadExcludesSignature(t *testing.T) {
	e := LogEntry{ID: "a", Action: "x", Timestamp: time.Unix(0, 0)}
	p1, err := e.SigningPayload()
	require.NoError(t, err)

	e.Signature = "deadbeef"
	p2, err := e.SigningPayload()
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
}

func TestLogEntryJSON(t *testing.T) {
	e := LogEntry{
		ID:        "id-1",
		Timestamp: time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC),
		Action:    "login",
		Details:   value.Object{"n": value.Int(2)},
		Signature: "abc",
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"id-1","timestamp":"2024-06-01T12:30:45Z","action":"login","user_id":null,"details":{"n":2},"signature":"abc"}`, string(data))

	var back LogEntry
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, e, back)
}

func TestStringPtr(t *testing.T) {
	assert.Nil(t, StringPtr(""))
	require.NotNil(t, StringPtr("u1"))
	assert.Equal(t, "u1", *StringPtr("u1"))
	assert.Equal(t, "", LogEntry{}.UserIDValue())
	assert.Equal(t, "u1", LogEntry{UserID: StringPtr("u1")}.UserIDValue())
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
	assert.Equal(t, byte('7'), a[14])
}
