package main

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aditzel/mcp-squared/internal/oauth"
)

// newAuthCmd drives the interactive OAuth authorization flow for one
// streaming-HTTP upstream (spec section 4.5): discover its authorization
// server metadata, register a dynamic client if needed, print the
// authorization URL, and wait on the loopback callback. Grounded on the
// same oauth.Driver the Cataloger's auth_pending state hands off to.
func newAuthCmd(flags *globalFlags) *cobra.Command {
	var scopes []string

	cmd := &cobra.Command{
		Use:   "auth <upstream>",
		Short: "authorize one streaming-HTTP upstream via OAuth",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuth(cmd.Context(), flags, args[0], scopes)
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "OAuth scopes to request (may be repeated)")
	return cmd
}

func runAuth(ctx context.Context, flags *globalFlags, key string, scopes []string) error {
	if flags.noInteractive {
		return fmt.Errorf("auth requires an interactive terminal; --no-interactive was set")
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	u, ok := cfg.Upstreams[key]
	if !ok {
		return fmt.Errorf("no upstream configured with key %q", key)
	}
	if u.Transport != "http" {
		return fmt.Errorf("upstream %q is not a streaming-HTTP upstream; only those use OAuth", key)
	}

	issuer, err := issuerFromUpstreamURL(u.URL)
	if err != nil {
		return fmt.Errorf("derive issuer for upstream %q: %w", key, err)
	}

	dir, err := dataDir()
	if err != nil {
		return err
	}
	store, err := oauth.NewStore(filepath.Join(dir, "tokens"))
	if err != nil {
		return err
	}

	port := 8732
	clientName := "mcp-squared"
	if u.Auth != nil {
		if u.Auth.CallbackPort != 0 {
			port = u.Auth.CallbackPort
		}
		if u.Auth.ClientName != "" {
			clientName = u.Auth.ClientName
		}
	}

	driver := &oauth.Driver{
		Store:        store,
		RedirectPort: port,
		ClientName:   clientName,
		PrintURL: func(authURL string) {
			fmt.Println("Open this URL in a browser to authorize mcp-squared:")
			fmt.Println("  " + authURL)
		},
	}

	rec, err := driver.Authorize(ctx, key, issuer, scopes)
	if err != nil {
		return fmt.Errorf("authorize %q: %w", key, err)
	}

	fmt.Printf("Authorization complete for %q (token expires %s)\n", key, rec.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

// issuerFromUpstreamURL derives an upstream's authorization-server issuer
// as its scheme and host, the conventional MCP arrangement where the
// resource server is also queried at its own origin's
// /.well-known/oauth-authorization-server path absent separate protected
// resource metadata pointing elsewhere.
func issuerFromUpstreamURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("upstream url %q is not absolute", raw)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}
