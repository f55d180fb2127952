// Package signer computes and checks HMAC-SHA256 signatures over the
// canonical form of a log entry.
//
// The key is loaded once at startup; New refuses an empty key and there is
// no unsigned mode. Verify never returns an error: a missing, malformed or
// mismatched signature is simply false, compared in constant time.
package signer
