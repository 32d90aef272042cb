// Package auth authenticates API bearer tokens and checks their scopes.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Scopes understood by the API. A ":rw" scope implies its ":ro" sibling.
const (
	ScopeAll          = "*"
	ScopePluginsRead  = "plugins:ro"
	ScopePluginsWrite = "plugins:rw"
	ScopeMessagesRead = "messages:ro"
	ScopeEventsRead   = "events:ro"
	ScopeInboundWrite = "inbound:rw"
)

var (
	ErrMissingCredentials = errors.New("missing API key")
	ErrMalformedHeader    = errors.New("invalid Authorization header format")
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Scopes is a normalized scope set.
type Scopes map[string]struct{}

// ParseScopes trims and deduplicates raw scope strings and adds the ":ro"
// sibling of every ":rw" scope.
func ParseScopes(raw []string) Scopes {
	out := make(Scopes, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
		if base, ok := strings.CutSuffix(s, ":rw"); ok {
			out[base+":ro"] = struct{}{}
		}
	}
	return out
}

// Allows reports whether the set holds ScopeAll or any of required. An empty
// requirement is always allowed.
func (s Scopes) Allows(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := s[ScopeAll]; ok {
		return true
	}
	for _, r := range required {
		if _, ok := s[r]; ok {
			return true
		}
	}
	return false
}

// Principal is an authenticated caller. Name identifies which credential
// matched and is safe to log.
type Principal struct {
	Name   string
	Scopes Scopes
}

type credential struct {
	name   string
	secret []byte
	scopes Scopes
}

// Authenticator matches presented bearer tokens against configured
// credentials in constant time.
type Authenticator struct {
	creds []credential
}

// NewAuthenticator builds an authenticator. A non-empty apiKey carries
// ScopeAll. Tokens with an empty secret are ignored.
func NewAuthenticator(apiKey string, tokens []TokenConfig) *Authenticator {
	a := &Authenticator{}
	if apiKey != "" {
		a.creds = append(a.creds, credential{
			name:   "api_key",
			secret: []byte(apiKey),
			scopes: Scopes{ScopeAll: {}},
		})
	}
	for i, t := range tokens {
		if t.Token == "" {
			continue
		}
		a.creds = append(a.creds, credential{
			name:   fmt.Sprintf("token[%d]", i),
			secret: []byte(t.Token),
			scopes: ParseScopes(t.Scopes),
		})
	}
	return a
}

// Authenticate returns the principal whose credential equals presented.
func (a *Authenticator) Authenticate(presented string) (Principal, bool) {
	if presented == "" {
		return Principal{}, false
	}
	p := []byte(presented)
	for _, c := range a.creds {
		if subtle.ConstantTimeCompare(p, c.secret) == 1 {
			return Principal{Name: c.name, Scopes: c.scopes}, true
		}
	}
	return Principal{}, false
}

// BearerToken returns the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingCredentials
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", ErrMalformedHeader
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", ErrMissingCredentials
	}
	return token, nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
