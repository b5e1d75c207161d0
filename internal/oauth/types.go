// Package oauth implements the per-upstream OAuth Provider and Token
// Store from spec section 4.5: PKCE authorization-code flow, dynamic
// client registration where the upstream supports it, a bounded local
// callback server, and atomic on-disk token persistence. It is grounded
// on the teacher's credential-handling idiom (pkg/credentials reading
// static secrets from a mounted directory) generalized to a live OAuth
// flow, using golang.org/x/oauth2 for the PKCE exchange (the pack's
// standard pick wherever a repo needs an OAuth2 client flow) and
// golang-jwt/jwt/v5 to read the expiry claim out of access tokens that
// happen to be JWTs, without assuming every upstream issues one.
package oauth

import "time"

// TokenRecord is the persisted state for one upstream's OAuth session.
type TokenRecord struct {
	UpstreamKey  string    `json:"upstreamKey"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenType    string    `json:"tokenType"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Scopes       []string  `json:"scopes,omitempty"`

	// ClientID/ClientSecret hold the result of dynamic client registration
	// (RFC 7591) when the upstream's authorization server supports it, so
	// re-authorization does not re-register a new client every time.
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`

	AuthorizationEndpoint string `json:"authorizationEndpoint"`
	TokenEndpoint         string `json:"tokenEndpoint"`

	// AuthStateVersion is incremented each time the Provider saves a code
	// exchange or a token refresh. Nothing outside this package reads it;
	// the Cataloger does not compare it when it reconnects.
	AuthStateVersion int `json:"authStateVersion"`
}

// Expired reports whether the access token's expiry has passed as of now,
// with a one-minute safety margin so a refresh can complete before a call
// using the token would actually fail upstream.
func (t TokenRecord) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt.Add(-1 * time.Minute))
}

// ClientMetadata is what gets POSTed during dynamic client registration.
type ClientMetadata struct {
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris"`
	GrantTypes   []string `json:"grant_types"`
	ResponseTypes []string `json:"response_types"`
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method"`
}

// RegisteredClient is dynamic client registration's response.
type RegisteredClient struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}
