package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/vnkhanh/submission-ingest-backend/pkg/apperror"
)

const (
	VisionScope       = "https://www.googleapis.com/auth/cloud-vision"
	GoogleTokenURL    = "https://oauth2.googleapis.com/token"
	jwtBearerGrant    = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionLifetime = time.Hour
)

// ServiceAccount is the subset of a Google service account key file used for
// the JWT-bearer exchange.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

func ParseServiceAccount(data []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, &apperror.AuthError{Message: "invalid service account JSON", Err: err}
	}
	var missing []string
	if sa.ClientEmail == "" {
		missing = append(missing, "client_email")
	}
	if sa.PrivateKey == "" {
		missing = append(missing, "private_key")
	}
	if sa.ProjectID == "" {
		missing = append(missing, "project_id")
	}
	if len(missing) > 0 {
		return nil, &apperror.AuthError{Message: "service account is missing " + strings.Join(missing, ", ")}
	}
	if sa.TokenURI == "" {
		sa.TokenURI = GoogleTokenURL
	}
	return &sa, nil
}

// CredentialBroker turns service account credentials into short-lived bearer
// tokens. Tokens are cached per account and scope when a cache is injected.
type CredentialBroker struct {
	client  *http.Client
	cache   TokenCache
	scope   string
	timeout time.Duration
	now     func() time.Time
	group   singleflight.Group
	log     zerolog.Logger
}

type BrokerOption func(*CredentialBroker)

func WithTokenCache(c TokenCache) BrokerOption {
	return func(b *CredentialBroker) { b.cache = c }
}

func WithScope(scope string) BrokerOption {
	return func(b *CredentialBroker) { b.scope = scope }
}

func WithHTTPClient(c *http.Client) BrokerOption {
	return func(b *CredentialBroker) { b.client = c }
}

func WithClock(now func() time.Time) BrokerOption {
	return func(b *CredentialBroker) { b.now = now }
}

func NewCredentialBroker(timeout time.Duration, log zerolog.Logger, opts ...BrokerOption) *CredentialBroker {
	b := &CredentialBroker{
		client:  http.DefaultClient,
		scope:   VisionScope,
		timeout: timeout,
		now:     time.Now,
		log:     log.With().Str("component", "credential_broker").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AccessToken returns a bearer token for sa, reusing a cached one when it is
// still outside the expiry margin.
func (b *CredentialBroker) AccessToken(ctx context.Context, sa *ServiceAccount) (*oauth2.Token, error) {
	key := sa.ClientEmail + "|" + b.scope

	if b.cache != nil {
		tok, err := b.cache.Get(ctx, key)
		if err != nil {
			b.log.Warn().Err(err).Str("account", sa.ClientEmail).Msg("token cache read failed")
		} else if tok != nil {
			return tok, nil
		}
	}

	v, err, _ := b.group.Do(key, func() (interface{}, error) {
		tok, err := b.exchange(ctx, sa)
		if err != nil {
			return nil, err
		}
		if b.cache != nil {
			if err := b.cache.Set(ctx, key, tok); err != nil {
				b.log.Warn().Err(err).Str("account", sa.ClientEmail).Msg("token cache write failed")
			}
		}
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

// SignAssertion builds the RS256 JWT presented to the token endpoint.
func (b *CredentialBroker) SignAssertion(sa *ServiceAccount) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return "", &apperror.AuthError{Message: "invalid service account private key", Err: err}
	}

	now := b.now()
	claims := jwt.MapClaims{
		"iss":   sa.ClientEmail,
		"scope": b.scope,
		"aud":   sa.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["typ"] = "JWT"
	if sa.PrivateKeyID != "" {
		token.Header["kid"] = sa.PrivateKeyID
	}

	signed, err := token.SignedString(key)
	if err != nil {
		return "", &apperror.AuthError{Message: "failed to sign assertion", Err: err}
	}
	return signed, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (b *CredentialBroker) exchange(ctx context.Context, sa *ServiceAccount) (*oauth2.Token, error) {
	assertion, err := b.SignAssertion(sa)
	if err != nil {
		return nil, err
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sa.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &apperror.AuthError{Message: "failed to create token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := b.now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &apperror.AuthError{Message: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &apperror.AuthError{Message: "failed to read token response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apperror.AuthError{Message: "Failed to get access token", Body: strings.TrimSpace(string(body))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &apperror.AuthError{Message: "invalid token response", Err: err}
	}
	if tr.AccessToken == "" {
		return nil, &apperror.AuthError{Message: "token response has no access_token", Body: string(body)}
	}
	if tr.ExpiresIn <= 0 {
		tr.ExpiresIn = int64(assertionLifetime / time.Second)
	}
	if tr.TokenType == "" {
		tr.TokenType = "Bearer"
	}

	b.log.Debug().
		Str("account", sa.ClientEmail).
		Str("scope", b.scope).
		Int64("expires_in", tr.ExpiresIn).
		Dur("took", b.now().Sub(start)).
		Msg("access token issued")

	return &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		Expiry:      start.Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
