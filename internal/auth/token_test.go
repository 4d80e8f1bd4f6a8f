// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractToken_PriorityOrder(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://relay.local/api/streams/active?token=query", nil)
	r.Header.Set("Authorization", "Bearer bearer-token ")
	r.Header.Set(HeaderAPIToken, "header-token")
	assert.Equal(t, "bearer-token", ExtractToken(r))

	r.Header.Del("Authorization")
	assert.Equal(t, "header-token", ExtractToken(r))

	r.Header.Del(HeaderAPIToken)
	assert.Empty(t, ExtractToken(r), "query tokens are ignored")
}

func TestExtractToken_SchemeIsCaseInsensitive(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "bearer abc")
	assert.Equal(t, "abc", ExtractToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, ExtractToken(r))
}

func TestAuthorizeToken(t *testing.T) {
	assert.True(t, AuthorizeToken("secret", "secret"))
	assert.False(t, AuthorizeToken("secret", "other"))
	assert.False(t, AuthorizeToken("", "secret"))
	assert.False(t, AuthorizeToken("secret", ""))
	assert.False(t, AuthorizeToken("secret", "  "))
}

func TestAuthorizeRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	assert.False(t, AuthorizeRequest(r, "secret"))
	r.Header.Set("Authorization", "Bearer secret")
	assert.True(t, AuthorizeRequest(r, "secret"))
	assert.False(t, AuthorizeRequest(nil, "secret"))
}

func TestPrincipal(t *testing.T) {
	a, b := NewPrincipal("secret"), NewPrincipal("secret")
	assert.Equal(t, a, b)
	assert.Len(t, a.ID, 18)
	assert.NotContains(t, a.ID, "secret")

	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)
	got, ok := PrincipalFromContext(WithPrincipal(context.Background(), a))
	assert.True(t, ok)
	assert.Equal(t, a, got)
}
