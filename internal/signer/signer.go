package signer

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/value"
)

// ErrMissingKey is returned by New when the signing key is empty.
var ErrMissingKey = errors.New("signing key is required")

// Signer signs and verifies log entries with a single process-wide
// HMAC-SHA256 key.
//
// Thread-safety: Signer is immutable after New and safe for concurrent use
// as long as its IDGenerator is.
type Signer struct {
	key []byte
	ids logentry.IDGenerator
}

// New creates a signer. An empty key is an error; callers treat it as
// fatal at startup. A nil ids defaults to UUIDv7.
func New(key []byte, ids logentry.IDGenerator) (*Signer, error) {
	if len(key) == 0 {
		return nil, ErrMissingKey
	}
	if ids == nil {
		ids = logentry.UUIDv7Generator{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Signer{key: k, ids: ids}, nil
}

// Sign builds a signed entry with a freshly assigned id. The timestamp is
// stored in UTC at whole-second resolution, matching what the signature
// covers.
func (s *Signer) Sign(action string, userID *string, details value.Object, ts time.Time) (logentry.LogEntry, error) {
	if details == nil {
		details = value.Object{}
	}
	e := logentry.LogEntry{
		ID:        s.ids.Generate(),
		Timestamp: ts.UTC().Truncate(time.Second),
		Action:    action,
		UserID:    userID,
		Details:   details,
	}
	sig, err := s.mac(e)
	if err != nil {
		return logentry.LogEntry{}, err
	}
	e.Signature = sig
	return e, nil
}

// Verify reports whether e's signature matches its current fields. Every
// failure, including a missing or malformed signature, yields false.
func (s *Signer) Verify(e logentry.LogEntry) bool {
	if e.Signature == "" {
		return false
	}
	got, err := hex.DecodeString(e.Signature)
	if err != nil {
		return false
	}
	payload, err := e.SigningPayload()
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	_, _ = mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), got)
}

func (s *Signer) mac(e logentry.LogEntry) (string, error) {
	payload, err := e.SigningPayload()
	if err != nil {
		return "", fmt.Errorf("sign entry: %w", err)
	}
	mac := hmac.New(sha256.New, s.key)
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// GenerateKey reads n random bytes from r (crypto/rand when nil) and
// returns them hex-encoded, suitable for AUDITTRAIL_SIGNING_KEY.
func GenerateKey(n int, r io.Reader) (string, error) {
	if n <= 0 {
		return "", errors.New("bytes must be greater than zero")
	}
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
