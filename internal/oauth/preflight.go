package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aditzel/mcp-squared/internal/mcperr"
)

// ServerMetadata is the subset of RFC 8414's authorization server
// metadata document this broker needs to drive a flow without any
// upstream-specific configuration beyond its issuer URL.
type ServerMetadata struct {
	Issuer                        string `json:"issuer"`
	AuthorizationEndpoint         string `json:"authorization_endpoint"`
	TokenEndpoint                 string `json:"token_endpoint"`
	RegistrationEndpoint          string `json:"registration_endpoint,omitempty"`
}

// DiscoverMetadata fetches issuer's well-known authorization server
// metadata document.
func DiscoverMetadata(ctx context.Context, issuer string) (ServerMetadata, error) {
	url := strings.TrimRight(issuer, "/") + "/.well-known/oauth-authorization-server"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ServerMetadata{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ServerMetadata{}, mcperr.Wrap(mcperr.CodeOAuthCallbackTimeout, "discover oauth metadata for "+issuer, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return ServerMetadata{}, mcperr.New(mcperr.CodeOAuthCallbackTimeout, fmt.Sprintf("metadata discovery for %s returned %d", issuer, resp.StatusCode))
	}
	var meta ServerMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return ServerMetadata{}, mcperr.Wrap(mcperr.CodeOAuthCallbackTimeout, "parse oauth metadata for "+issuer, err)
	}
	return meta, nil
}

// BrowserOpener opens url in the user's default browser. Swappable for
// tests; the production implementation is platform-specific (omitted
// here: the CLI's `auth` subcommand prints the URL either way as a
// fallback for headless environments).
type BrowserOpener func(url string) error

// Driver runs the full pre-flight authorization sequence for one
// upstream: discover metadata, register dynamically if needed, print (and
// optionally open) the authorization URL, wait on the loopback callback,
// and exchange the resulting code.
type Driver struct {
	Store        *Store
	RedirectPort int
	ClientName   string
	Open         BrowserOpener
	PrintURL     func(url string)
}

// Authorize runs the flow end to end for upstreamKey against issuer,
// returning the persisted token record.
func (d *Driver) Authorize(ctx context.Context, upstreamKey, issuer string, scopes []string) (TokenRecord, error) {
	meta, err := DiscoverMetadata(ctx, issuer)
	if err != nil {
		return TokenRecord{}, err
	}

	provider := NewProvider(d.Store, upstreamKey, fmt.Sprintf("http://127.0.0.1:%d/callback", d.RedirectPort))

	clientID := ""
	clientSecret := ""
	if existing, found, _ := d.Store.Load(upstreamKey); found && existing.ClientID != "" {
		clientID, clientSecret = existing.ClientID, existing.ClientSecret
	} else if meta.RegistrationEndpoint != "" {
		reg, err := provider.RegisterDynamicClient(ctx, meta.RegistrationEndpoint, d.ClientName)
		if err != nil {
			return TokenRecord{}, err
		}
		clientID, clientSecret = reg.ClientID, reg.ClientSecret
	}

	authURL, err := provider.BuildAuthorizationURL(meta.AuthorizationEndpoint, clientID, scopes)
	if err != nil {
		return TokenRecord{}, err
	}
	if d.PrintURL != nil {
		d.PrintURL(authURL)
	}
	if d.Open != nil {
		_ = d.Open(authURL) // best-effort: the printed URL is the fallback
	}

	result, err := RunCallbackServer(ctx, d.RedirectPort)
	if err != nil {
		return TokenRecord{}, err
	}
	if result.Error != "" {
		return TokenRecord{}, mcperr.New(mcperr.CodeOAuthCallbackTimeout, "authorization server returned error: "+result.Error)
	}
	if err := provider.VerifyState(result.State); err != nil {
		return TokenRecord{}, err
	}

	return provider.ExchangeCode(ctx, result.Code, meta.TokenEndpoint, clientID, clientSecret, scopes)
}
