package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned for unknown owners and mismatched secrets.
var ErrInvalidToken = errors.New("invalid api token")

// Service verifies API bearer tokens of the form "owner:secret" against
// bcrypt hashes configured per owner. With WithOIDC it also accepts ID
// tokens of a trusted issuer.
type Service struct {
	hashes map[string][]byte

	verifier   *oidc.IDTokenVerifier
	ownerClaim string
}

// NewService copies the owner to bcrypt hash mapping.
func NewService(tokens map[string]string) *Service {
	hashes := make(map[string][]byte, len(tokens))
	for owner, hash := range tokens {
		hashes[strings.ToLower(owner)] = []byte(hash)
	}
	return &Service{hashes: hashes}
}

// WithOIDC makes the service accept ID tokens checked by verifier. The
// owner is read from ownerClaim ("sub" or a string claim such as "email").
func (s *Service) WithOIDC(verifier *oidc.IDTokenVerifier, ownerClaim string) *Service {
	s.verifier = verifier
	s.ownerClaim = ownerClaim
	if s.ownerClaim == "" {
		s.ownerClaim = "email"
	}
	return s
}

// Authenticate returns the owner a token belongs to.
func (s *Service) Authenticate(token string) (string, error) {
	idx := strings.LastIndex(token, ":")
	if idx <= 0 || idx == len(token)-1 {
		return "", ErrInvalidToken
	}
	owner := strings.ToLower(token[:idx])
	hash, ok := s.hashes[owner]
	if !ok {
		// Keep timing comparable to a known owner with a wrong secret.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(token[idx+1:]))
		return "", ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(token[idx+1:])); err != nil {
		return "", ErrInvalidToken
	}
	return owner, nil
}

// RequireToken enforces bearer authentication and stores the owner on the
// request context.
func (s *Service) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="calsched"`)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		owner, err := s.authenticate(r.Context(), strings.TrimSpace(token))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="calsched", error="invalid_token"`)
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
	})
}

// authenticate routes colon-free tokens to the OIDC verifier when one is
// configured; everything else is an "owner:secret" token.
func (s *Service) authenticate(ctx context.Context, token string) (string, error) {
	if s.verifier == nil || strings.Contains(token, ":") {
		return s.Authenticate(token)
	}
	return s.AuthenticateIDToken(ctx, token)
}

// AuthenticateIDToken verifies an ID token and returns its owner claim.
func (s *Service) AuthenticateIDToken(ctx context.Context, raw string) (string, error) {
	if s.verifier == nil {
		return "", ErrInvalidToken
	}
	idToken, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if s.ownerClaim == "sub" {
		return strings.ToLower(idToken.Subject), nil
	}
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if verified, ok := claims["email_verified"].(bool); ok && !verified && s.ownerClaim == "email" {
		return "", fmt.Errorf("%w: email not verified", ErrInvalidToken)
	}
	owner, _ := claims[s.ownerClaim].(string)
	if strings.TrimSpace(owner) == "" {
		return "", fmt.Errorf("%w: missing %s claim", ErrInvalidToken, s.ownerClaim)
	}
	return strings.ToLower(strings.TrimSpace(owner)), nil
}

// HashToken returns the bcrypt hash to configure for secret.
func HashToken(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("calsched-dummy-secret"), bcrypt.DefaultCost)
