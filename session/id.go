package session

import (
	"crypto/rand"
	"encoding/base64"
)

const sessionIDSize = 16

// NewSessionID returns 128 random bits, base64url encoded without padding.
func NewSessionID() (string, error) {
	var raw [sessionIDSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidSessionID reports whether id has the shape NewSessionID produces.
func ValidSessionID(id string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(id)
	return err == nil && len(raw) == sessionIDSize
}

// checkSessionID rejects malformed ids before they reach the backend.
func checkSessionID(id string) error {
	if !ValidSessionID(id) {
		return ErrSessionNotFound
	}
	return nil
}
