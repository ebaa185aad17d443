package auth

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Passphrase checks the shared clinic passphrase. The configured value may be
// plain text or a bcrypt hash ("$2a$", "$2b$", "$2y$" prefixes).
type Passphrase struct {
	value  string
	hashed bool
}

func NewPassphrase(configured string) *Passphrase {
	configured = strings.TrimSpace(configured)
	return &Passphrase{
		value:  configured,
		hashed: strings.HasPrefix(configured, "$2"),
	}
}

// Configured reports whether any passphrase is set. Without one every login
// attempt is rejected.
func (p *Passphrase) Configured() bool {
	return p != nil && p.value != ""
}

// Check reports whether candidate matches the configured passphrase.
func (p *Passphrase) Check(candidate string) bool {
	if !p.Configured() || candidate == "" {
		return false
	}
	if p.hashed {
		return bcrypt.CompareHashAndPassword([]byte(p.value), []byte(candidate)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(p.value), []byte(candidate)) == 1
}
