package permission

import (
	"errors"
	"fmt"
	"strings"
)

// Scope restricts a permission to a subset of resources.
type Scope string

const (
	ScopeNone     Scope = ""
	ScopeOwn      Scope = "own"
	ScopeAssigned Scope = "assigned"
)

// Code is a parsed permission code.
type Code struct {
	Resource string
	Action   string
	Scope    Scope
}

// ErrInvalidCode reports a string that is not a permission code.
var ErrInvalidCode = errors.New("invalid permission code")

// ParseCode parses "resource:action" or "resource:action:own|assigned".
// Segments are lower-case letters, digits, '_', '-' and '.'.
func ParseCode(s string) (Code, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Code{}, fmt.Errorf("%w: %q", ErrInvalidCode, s)
	}
	for _, p := range parts {
		if !validSegment(p) {
			return Code{}, fmt.Errorf("%w: %q", ErrInvalidCode, s)
		}
	}
	c := Code{Resource: parts[0], Action: parts[1]}
	if len(parts) == 3 {
		switch Scope(parts[2]) {
		case ScopeOwn, ScopeAssigned:
			c.Scope = Scope(parts[2])
		default:
			return Code{}, fmt.Errorf("%w: unknown scope in %q", ErrInvalidCode, s)
		}
	}
	return c, nil
}

// MustParseCode is ParseCode for static tables; it panics on error.
func MustParseCode(s string) Code {
	c, err := ParseCode(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Code) String() string {
	return Format(c.Resource, c.Action, c.Scope)
}

// Unscoped returns c without its scope qualifier.
func (c Code) Unscoped() Code {
	c.Scope = ScopeNone
	return c
}

// Format builds a code string from its parts.
func Format(resource, action string, scope Scope) string {
	if scope == ScopeNone {
		return resource + ":" + action
	}
	return resource + ":" + action + ":" + string(scope)
}

func validSegment(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-', c == '.':
		default:
			return false
		}
	}
	return true
}
