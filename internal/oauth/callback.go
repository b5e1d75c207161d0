package oauth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aditzel/mcp-squared/internal/mcperr"
)

// CallbackResult is what the loopback callback server captured from the
// authorization server's redirect.
type CallbackResult struct {
	Code  string
	State string
	Error string
}

const callbackTimeout = 5 * time.Minute

// RunCallbackServer starts a loopback HTTP server on port, waits for a
// single /callback request (or ctx cancellation, or the 5-minute bound,
// whichever comes first), and returns what it captured. The server is
// torn down before this function returns either way.
func RunCallbackServer(ctx context.Context, port int) (CallbackResult, error) {
	ctx, cancel := context.WithTimeout(ctx, callbackTimeout)
	defer cancel()

	resultCh := make(chan CallbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		result := CallbackResult{
			Code:  q.Get("code"),
			State: q.Get("state"),
			Error: q.Get("error"),
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if result.Error != "" {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, "<html><body><h3>Authorization failed: %s</h3>You may close this window.</body></html>", result.Error)
		} else {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, "<html><body><h3>Authorization complete</h3>You may close this window and return to the terminal.</body></html>")
		}
		select {
		case resultCh <- result:
		default:
		}
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case result := <-resultCh:
		_ = srv.Shutdown(context.Background())
		return result, nil
	case err := <-errCh:
		return CallbackResult{}, mcperr.Wrap(mcperr.CodeOAuthCallbackTimeout, "callback server failed to start", err)
	case <-ctx.Done():
		_ = srv.Shutdown(context.Background())
		return CallbackResult{}, mcperr.New(mcperr.CodeOAuthCallbackTimeout, "timed out waiting for oauth callback")
	}
}
