package model

import "strings"

// CredentialKind tells how a stored password was written.
type CredentialKind int

const (
	// CredentialLegacy is a password stored as plaintext, from before
	// hashing was introduced.
	CredentialLegacy CredentialKind = iota
	// CredentialHashed is a bcrypt digest.
	CredentialHashed
)

// bcryptPrefixes are the scheme identifiers bcrypt writes at the start of a digest.
var bcryptPrefixes = []string{"$2a$", "$2b$", "$2x$", "$2y$"}

// Credential is a stored password, tagged with its format.
//
// Repositories build it once with ParseCredential when a row is read, so the
// rest of the code switches on Kind instead of inspecting the string.
type Credential struct {
	Kind  CredentialKind
	Value string
}

// ParseCredential classifies a raw password column value.
func ParseCredential(raw string) Credential {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(raw, p) {
			return Credential{Kind: CredentialHashed, Value: raw}
		}
	}
	return Credential{Kind: CredentialLegacy, Value: raw}
}

// HashedCredential wraps a digest produced by the password hasher.
func HashedCredential(digest string) Credential {
	return Credential{Kind: CredentialHashed, Value: digest}
}

// IsLegacy reports whether the credential still needs to be upgraded to a hash.
func (c Credential) IsLegacy() bool {
	return c.Kind == CredentialLegacy
}

// String never returns the stored value.
func (c Credential) String() string {
	if c.IsLegacy() {
		return "credential(legacy)"
	}
	return "credential(hashed)"
}
