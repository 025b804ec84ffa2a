// ABOUTME: Bearer token extraction from Authorization headers
// ABOUTME: Shared by the MCP dispatcher and the health client

package auth

import (
	"errors"
	"strings"
)

// Header errors, phrased for the rejection body.
var (
	ErrMissingHeader = errors.New("missing authorization header")
	ErrBadScheme     = errors.New("invalid authorization header format")
	ErrEmptyToken    = errors.New("empty token")
)

// ExtractBearerToken returns the token from an "Authorization: Bearer" value.
func ExtractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingHeader
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrBadScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}
