package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier validates tokens issued by an external identity provider
type TokenVerifier interface {
	Validate(tokenString string) (*Claims, error)
}

// Claims are the OIDC claims the intake API reads
type Claims struct {
	UserID            string `json:"sub"`
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	jwt.RegisteredClaims
}

// Options configure a JWKSVerifier. JWKSURL skips OIDC discovery when set.
type Options struct {
	Issuer   string
	Audience string
	JWKSURL  string
}

// JWKSVerifier checks RS/ES signed tokens against the provider's key set
type JWKSVerifier struct {
	jwks     keyfunc.Keyfunc
	issuer   string
	audience string
}

// NewJWKSVerifier discovers the key set of the issuer and starts refreshing it
// in the background until ctx is done.
func NewJWKSVerifier(ctx context.Context, opts Options) (*JWKSVerifier, error) {
	if opts.Issuer == "" {
		return nil, fmt.Errorf("oidc issuer is required")
	}

	jwksURL := opts.JWKSURL
	if jwksURL == "" {
		discoverCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		var err error
		jwksURL, err = discoverJWKSURL(discoverCtx, opts.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover JWKS URL: %w", err)
		}
	}

	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}

	return newVerifier(jwks, opts), nil
}

// NewStaticVerifier verifies tokens against a fixed JWK set document
func NewStaticVerifier(jwksJSON []byte, opts Options) (*JWKSVerifier, error) {
	jwks, err := keyfunc.NewJWKSetJSON(jwksJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWK set: %w", err)
	}
	return newVerifier(jwks, opts), nil
}

func newVerifier(jwks keyfunc.Keyfunc, opts Options) *JWKSVerifier {
	return &JWKSVerifier{
		jwks:     jwks,
		issuer:   opts.Issuer,
		audience: opts.Audience,
	}
}

// discoverJWKSURL fetches the OIDC discovery document and extracts the jwks_uri.
func discoverJWKSURL(ctx context.Context, issuer string) (string, error) {
	discoveryURL := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create discovery request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("jwks_uri not found in discovery document")
	}

	return doc.JWKSURI, nil
}

// Validate parses the token and returns its claims
func (v *JWKSVerifier) Validate(tokenString string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.jwks.Keyfunc, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if v.audience != "" {
		aud, err := claims.GetAudience()
		if err != nil {
			return nil, fmt.Errorf("failed to get audience: %w", err)
		}
		if !slices.Contains(aud, v.audience) {
			return nil, fmt.Errorf("invalid audience")
		}
	}

	return claims, nil
}
