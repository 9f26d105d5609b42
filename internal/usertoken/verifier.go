// Package usertoken verifies end-user access tokens issued by the identity
// provider against its published JWKS.
package usertoken

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultLeeway          = 30 * time.Second
	defaultRefreshInterval = 5 * time.Minute
)

// ErrSubjectMissing is returned for otherwise valid tokens without a sub claim.
var ErrSubjectMissing = errors.New("token subject missing")

// Config configures access-token verification. Issuer and Audience are
// only enforced when set.
type Config struct {
	JWKSURL         string
	Issuer          string
	Audience        string
	Leeway          time.Duration
	RefreshInterval time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Verifier validates RS256 access tokens and extracts the user id.
type Verifier struct {
	keys    keyfunc.Keyfunc
	options []jwt.ParserOption
}

// NewVerifier fetches the JWKS in the background and keeps it refreshed
// until ctx is cancelled. Startup does not fail if the first fetch does.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, errors.New("token verifier requires jwksURL")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    client,
		Ctx:                       ctx,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refresh,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("jwks refresh failed", "url", jwksURL, "err", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create jwks storage: %w", err)
	}
	k, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("create keyfunc: %w", err)
	}
	return NewVerifierWithKeyfunc(k, cfg), nil
}

// NewVerifierWithKeyfunc builds a Verifier over an existing key source.
func NewVerifierWithKeyfunc(k keyfunc.Keyfunc, cfg Config) *Verifier {
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
	}
	if issuer := strings.TrimSpace(cfg.Issuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience := strings.TrimSpace(cfg.Audience); audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &Verifier{keys: k, options: opts}
}

// VerifySubject validates token and returns its subject.
func (v *Verifier) VerifySubject(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, v.keys.Keyfunc, v.options...)
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", ErrSubjectMissing
	}
	return subject, nil
}
