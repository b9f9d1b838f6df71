package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
)

const testIssuer = "https://idp.example.com"

type idTokenSigner struct {
	t      *testing.T
	signer jose.Signer
}

func newOIDCService(t *testing.T, ownerClaim string) (*Service, idTokenSigner) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	verifier := oidc.NewVerifier(testIssuer, &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}}, &oidc.Config{ClientID: "calsched"})
	return newTestService(t).WithOIDC(verifier, ownerClaim), idTokenSigner{t: t, signer: signer}
}

func (s idTokenSigner) sign(claims map[string]any) string {
	s.t.Helper()
	base := map[string]any{
		"iss": testIssuer,
		"aud": "calsched",
		"sub": "User-1",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	for k, v := range claims {
		base[k] = v
	}
	payload, err := json.Marshal(base)
	if err != nil {
		s.t.Fatalf("marshal claims: %v", err)
	}
	obj, err := s.signer.Sign(payload)
	if err != nil {
		s.t.Fatalf("sign: %v", err)
	}
	raw, err := obj.CompactSerialize()
	if err != nil {
		s.t.Fatalf("serialize: %v", err)
	}
	return raw
}

func TestAuthenticateIDToken(t *testing.T) {
	svc, signer := newOIDCService(t, "email")

	tests := []struct {
		name    string
		claims  map[string]any
		owner   string
		wantErr bool
	}{
		{name: "verified email", claims: map[string]any{"email": "Bob@Example.com", "email_verified": true}, owner: "bob@example.com"},
		{name: "email without verification claim", claims: map[string]any{"email": "bob@example.com"}, owner: "bob@example.com"},
		{name: "unverified email", claims: map[string]any{"email": "bob@example.com", "email_verified": false}, wantErr: true},
		{name: "missing email", claims: nil, wantErr: true},
		{name: "wrong audience", claims: map[string]any{"email": "bob@example.com", "aud": "other"}, wantErr: true},
		{name: "wrong issuer", claims: map[string]any{"email": "bob@example.com", "iss": "https://evil.example.com"}, wantErr: true},
		{name: "expired", claims: map[string]any{"email": "bob@example.com", "exp": time.Now().Add(-time.Hour).Unix()}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, err := svc.AuthenticateIDToken(context.Background(), signer.sign(tt.claims))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidToken) {
					t.Fatalf("expected ErrInvalidToken, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AuthenticateIDToken: %v", err)
			}
			if owner != tt.owner {
				t.Fatalf("owner = %q, want %q", owner, tt.owner)
			}
		})
	}
}

func TestAuthenticateIDTokenSubjectClaim(t *testing.T) {
	svc, signer := newOIDCService(t, "sub")
	owner, err := svc.AuthenticateIDToken(context.Background(), signer.sign(nil))
	if err != nil {
		t.Fatalf("AuthenticateIDToken: %v", err)
	}
	if owner != "user-1" {
		t.Fatalf("owner = %q", owner)
	}
}

func TestAuthenticateIDTokenDisabled(t *testing.T) {
	_, err := newTestService(t).AuthenticateIDToken(context.Background(), "a.b.c")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRequireTokenAcceptsBothKinds(t *testing.T) {
	svc, signer := newOIDCService(t, "email")
	var seen string
	handler := svc.RequireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = OwnerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	for header, want := range map[string]string{
		"Bearer " + signer.sign(map[string]any{"email": "bob@example.com"}): "bob@example.com",
		"Bearer alice@example.com:s3cret":                                   "alice@example.com",
	} {
		seen = ""
		req := httptest.NewRequest(http.MethodGet, "/api/v1/itip/messages/x/status", nil)
		req.Header.Set("Authorization", header)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent || seen != want {
			t.Fatalf("status = %d owner = %q, want %q", rr.Code, seen, want)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/itip/messages/x/status", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}
