package password

import (
	"errors"
	"strings"
)

// ErrUnsupportedHash reports a stored hash in no known format.
var ErrUnsupportedHash = errors.New("unsupported password hash format")

// Hasher is one hashing scheme.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	NeedsRehash(encoded string) (bool, error)
}

// Verifier checks passwords against stored hashes in any supported format
// and hashes new passwords with its primary scheme.
type Verifier struct {
	argon2  *Argon2
	bcrypt  *Bcrypt
	primary Hasher
	dummy   string
}

// NewVerifier returns a Verifier that hashes with argon2id and verifies both
// argon2id and bcrypt hashes.
func NewVerifier(params Argon2Params, bcryptCost int) (*Verifier, error) {
	a, err := NewArgon2(params)
	if err != nil {
		return nil, err
	}
	v := &Verifier{argon2: a, bcrypt: NewBcrypt(bcryptCost), primary: a}
	if v.dummy, err = a.Hash("wardauth-dummy-password"); err != nil {
		return nil, err
	}
	return v, nil
}

// Hash hashes password with the primary scheme.
func (v *Verifier) Hash(password string) (string, error) {
	return v.primary.Hash(password)
}

// Verify dispatches on the hash prefix.
func (v *Verifier) Verify(password, encoded string) (bool, error) {
	h, err := v.schemeFor(encoded)
	if err != nil {
		return false, err
	}
	return h.Verify(password, encoded)
}

// NeedsRehash reports whether encoded should be replaced on the next
// successful login: weaker parameters or a non-primary scheme.
func (v *Verifier) NeedsRehash(encoded string) (bool, error) {
	h, err := v.schemeFor(encoded)
	if err != nil {
		return false, err
	}
	if h != v.primary {
		return true, nil
	}
	return h.NeedsRehash(encoded)
}

// DummyVerify burns the same work as a real argon2id check. Login calls it
// for unknown usernames so response time does not reveal which field was wrong.
func (v *Verifier) DummyVerify(password string) {
	_, _ = v.argon2.Verify(password, v.dummy)
}

func (v *Verifier) schemeFor(encoded string) (Hasher, error) {
	switch {
	case strings.HasPrefix(encoded, argon2Prefix):
		return v.argon2, nil
	case isBcrypt(encoded):
		return v.bcrypt, nil
	default:
		return nil, ErrUnsupportedHash
	}
}
