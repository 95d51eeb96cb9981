// Package identity reads the chat credentials the client persisted locally:
// the bearer token under the "accessToken" key and the signed-in user under
// the "user" key (a JSON object with a "name" field). Every read failure
// degrades to an empty value so a missing or corrupt profile never stops the
// client from rendering.
package identity

import (
	"context"
	"encoding/json"
	"log"
)

// Storage keys.
const (
	KeyAccessToken = "accessToken"
	KeyUser        = "user"
)

// Storage is a string key/value store holding the client profile.
type Storage interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
}

// Credentials are injected into the chat session at construction.
type Credentials struct {
	AccessToken string
	UserName    string
}

// User is the stored user record.
type User struct {
	Name string `json:"name"`
}

// Load reads the credentials from storage.
func Load(ctx context.Context, s Storage) Credentials {
	return Credentials{
		AccessToken: AccessToken(ctx, s),
		UserName:    UserName(ctx, s),
	}
}

// AccessToken returns the stored bearer token, or "" if unavailable.
func AccessToken(ctx context.Context, s Storage) string {
	v, ok, err := s.Get(ctx, KeyAccessToken)
	if err != nil {
		log.Printf("[identity] read %s: %v", KeyAccessToken, err)
		return ""
	}
	if !ok {
		return ""
	}
	return v
}

// UserName returns the stored user's name, or "" if the record is missing
// or cannot be decoded.
func UserName(ctx context.Context, s Storage) string {
	v, ok, err := s.Get(ctx, KeyUser)
	if err != nil {
		log.Printf("[identity] read %s: %v", KeyUser, err)
		return ""
	}
	if !ok || v == "" {
		return ""
	}
	var u User
	if err := json.Unmarshal([]byte(v), &u); err != nil {
		log.Printf("[identity] corrupt %s record: %v", KeyUser, err)
		return ""
	}
	return u.Name
}
