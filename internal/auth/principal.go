// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Principal is the authenticated caller of the control API.
type Principal struct {
	// ID is a stable identifier derived from the token, safe to log.
	ID string
}

// NewPrincipal derives a Principal from a token.
func NewPrincipal(token string) Principal {
	hash := sha256.Sum256([]byte(token))
	return Principal{ID: "t_" + hex.EncodeToString(hash[:])[:16]}
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
