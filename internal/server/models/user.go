// Package models defines the server-side records persisted in the database
// and returned by the services.
package models

import "time"

// User is an account. UserName is unique and compared case-sensitively.
// SecretKeys maps a recognition provider name to the user's own API key for
// it (one slot per provider); values are decrypted plaintext here and
// encrypted at rest.
type User struct {
	ID           int64
	UserName     string
	PasswordHash []byte
	SecretKeys   map[string]string
	CreatedAt    time.Time
}

// SecretKey returns the user's key for provider, if any.
func (u *User) SecretKey(provider string) (string, bool) {
	if u == nil || u.SecretKeys == nil {
		return "", false
	}
	k, ok := u.SecretKeys[provider]
	return k, ok && k != ""
}
