package oauth

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/aditzel/mcp-squared/internal/mcperr"
)

// Provider drives one upstream's PKCE authorization-code flow: building
// the authorization URL, verifying the returned state, exchanging the
// code for tokens, and persisting the result to a Store.
type Provider struct {
	store       *Store
	upstreamKey string
	redirectURL string
	httpClient  *http.Client

	pendingState    string
	pendingVerifier string
}

// NewProvider builds a Provider for one upstream, persisting results to store.
func NewProvider(store *Store, upstreamKey, redirectURL string) *Provider {
	return &Provider{
		store:       store,
		upstreamKey: upstreamKey,
		redirectURL: redirectURL,
		httpClient:  http.DefaultClient,
	}
}

// pkceVerifier returns a high-entropy code verifier per RFC 7636 section 4.1.
func pkceVerifier() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// RegisterDynamicClient performs RFC 7591 dynamic client registration
// against registrationEndpoint and returns the issued client_id (and
// secret, if any). It does not write the token record; ExchangeCode
// stores the client credentials it is given on the record it saves.
func (p *Provider) RegisterDynamicClient(ctx context.Context, registrationEndpoint, clientName string) (RegisteredClient, error) {
	meta := ClientMetadata{
		ClientName:              clientName,
		RedirectURIs:            []string{p.redirectURL},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
	}
	body, err := json.Marshal(meta)
	if err != nil {
		return RegisteredClient{}, mcperr.Wrap(mcperr.CodeOAuthCallbackTimeout, "marshal client metadata", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return RegisteredClient{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return RegisteredClient{}, mcperr.Wrap(mcperr.CodeOAuthCallbackTimeout, "dynamic client registration for "+p.upstreamKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return RegisteredClient{}, mcperr.New(mcperr.CodeOAuthCallbackTimeout, fmt.Sprintf("registration endpoint returned %d for %s", resp.StatusCode, p.upstreamKey))
	}

	var reg RegisteredClient
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return RegisteredClient{}, mcperr.Wrap(mcperr.CodeOAuthCallbackTimeout, "decode registration response", err)
	}
	return reg, nil
}

// BuildAuthorizationURL starts a new authorization attempt: it mints a
// fresh state and PKCE verifier, remembers them on the Provider for the
// matching VerifyState call, and returns the URL the user's browser
// should be sent to.
func (p *Provider) BuildAuthorizationURL(authEndpoint, clientID string, scopes []string) (string, error) {
	verifier, err := pkceVerifier()
	if err != nil {
		return "", mcperr.Wrap(mcperr.CodeOAuthCallbackTimeout, "generate pkce verifier", err)
	}
	p.pendingVerifier = verifier
	p.pendingState = uuid.NewString()

	cfg := p.oauth2Config(authEndpoint, "", clientID, scopes)
	url := cfg.AuthCodeURL(p.pendingState,
		oauth2.SetAuthURLParam("code_challenge", pkceChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	return url, nil
}

// VerifyState checks that gotState matches the most recently issued
// state, preventing a CSRF-forged callback from being accepted.
func (p *Provider) VerifyState(gotState string) error {
	if p.pendingState == "" || gotState != p.pendingState {
		return mcperr.New(mcperr.CodeOAuthStateMismatch, "oauth callback state mismatch for "+p.upstreamKey)
	}
	return nil
}

// ExchangeCode trades an authorization code for tokens, using the PKCE
// verifier generated by BuildAuthorizationURL, and persists the result.
func (p *Provider) ExchangeCode(ctx context.Context, code, tokenEndpoint, clientID, clientSecret string, scopes []string) (TokenRecord, error) {
	cfg := p.oauth2Config(tokenEndpoint, tokenEndpoint, clientID, scopes)
	cfg.ClientSecret = clientSecret

	tok, err := cfg.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", p.pendingVerifier),
	)
	if err != nil {
		return TokenRecord{}, mcperr.Wrap(mcperr.CodeOAuthCallbackTimeout, "exchange code for "+p.upstreamKey, err)
	}

	rec := TokenRecord{
		UpstreamKey:   p.upstreamKey,
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		TokenType:     tok.TokenType,
		ExpiresAt:     tok.Expiry,
		Scopes:        scopes,
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		TokenEndpoint: tokenEndpoint,
	}
	if rec.ExpiresAt.IsZero() {
		if exp, ok := jwtExpiry(tok.AccessToken); ok {
			rec.ExpiresAt = exp
		}
	}

	existing, found, _ := p.store.Load(p.upstreamKey)
	if found {
		rec.AuthStateVersion = existing.AuthStateVersion + 1
	} else {
		rec.AuthStateVersion = 1
	}

	if err := p.store.Save(rec); err != nil {
		return TokenRecord{}, err
	}
	return rec, nil
}

// Refresh exchanges a stored refresh token for a new access token.
func (p *Provider) Refresh(ctx context.Context, tokenEndpoint string) (TokenRecord, error) {
	rec, found, err := p.store.Load(p.upstreamKey)
	if err != nil {
		return TokenRecord{}, err
	}
	if !found || rec.RefreshToken == "" {
		return TokenRecord{}, mcperr.New(mcperr.CodeOAuthCallbackTimeout, "no refresh token stored for "+p.upstreamKey)
	}

	cfg := p.oauth2Config(tokenEndpoint, tokenEndpoint, rec.ClientID, rec.Scopes)
	cfg.ClientSecret = rec.ClientSecret
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: rec.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		return TokenRecord{}, mcperr.Wrap(mcperr.CodeOAuthCallbackTimeout, "refresh token for "+p.upstreamKey, err)
	}

	rec.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		rec.RefreshToken = tok.RefreshToken
	}
	rec.ExpiresAt = tok.Expiry
	if rec.ExpiresAt.IsZero() {
		if exp, ok := jwtExpiry(tok.AccessToken); ok {
			rec.ExpiresAt = exp
		}
	}
	rec.AuthStateVersion++

	if err := p.store.Save(rec); err != nil {
		return TokenRecord{}, err
	}
	return rec, nil
}

func (p *Provider) oauth2Config(authEndpoint, tokenEndpoint, clientID string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: p.redirectURL,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authEndpoint,
			TokenURL: tokenEndpoint,
		},
	}
}

// jwtExpiry parses tokenStr as a JWT without verifying its signature
// (the authorization server, not this broker, is the token's verifier)
// purely to recover the exp claim for upstreams that issue JWT access
// tokens but omit expires_in from the token response.
func jwtExpiry(tokenStr string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	_, _, err := parser.ParseUnverified(tokenStr, claims)
	if err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
