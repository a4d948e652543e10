// ABOUTME: Symmetric HMAC-SHA256 signing of message content
// ABOUTME: Signatures are deterministic over (id, sender, text, data, sentAt)

package ledger

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Signer computes and checks message signatures with a symmetric key.
type Signer struct {
	key []byte
}

// NewSigner creates a signer with the given key. An empty key selects a
// process-random key, stable for the process lifetime.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating signing key: %w", err)
		}
	}
	return &Signer{key: key}, nil
}

// Sign computes the hex HMAC-SHA256 over the message's signed fields.
// SentAt is encoded at nanosecond precision so the signature survives a
// storage round trip.
func (s *Signer) Sign(id, senderID, text, data string, sentAt time.Time) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(id))
	mac.Write([]byte{0})
	mac.Write([]byte(senderID))
	mac.Write([]byte{0})
	mac.Write([]byte(text))
	mac.Write([]byte{0})
	mac.Write([]byte(data))
	mac.Write([]byte{0})
	mac.Write([]byte(sentAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares in constant time.
func (s *Signer) Verify(signature, id, senderID, text, data string, sentAt time.Time) bool {
	expected := s.Sign(id, senderID, text, data, sentAt)
	return hmac.Equal([]byte(expected), []byte(signature))
}
