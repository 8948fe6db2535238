// Package auth guards the admin HTTP surface with shared-secret tokens.
package auth

import "net/http"

// Authorizer decides whether a request may reach the admin API.
type Authorizer interface {
	IsAuthorized(r *http.Request) bool
}

// TokenAuthorizer compares the value of a configured header against a set
// of accepted tokens.
type TokenAuthorizer struct {
	header string
	tokens map[string]struct{}
}

func NewTokenAuthorizer(header string, tokens []string) *TokenAuthorizer {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return &TokenAuthorizer{header: header, tokens: set}
}

func (a *TokenAuthorizer) IsAuthorized(r *http.Request) bool {
	token := r.Header.Get(a.header)
	if token == "" {
		return false
	}
	_, ok := a.tokens[token]
	return ok
}

// PermissiveAuthorizer admits every request. Used when token auth is off.
type PermissiveAuthorizer struct{}

func (PermissiveAuthorizer) IsAuthorized(*http.Request) bool { return true }

// FromConfig picks the authorizer the settings call for.
func FromConfig(useToken bool, header string, tokens []string) Authorizer {
	if !useToken {
		return PermissiveAuthorizer{}
	}
	return NewTokenAuthorizer(header, tokens)
}
