package oauth

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCallbackServerCapturesCodeAndState(t *testing.T) {
	port := 18765
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resultCh := make(chan CallbackResult, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := RunCallbackServer(ctx, port)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	// give the server a moment to start listening
	time.Sleep(100 * time.Millisecond)
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?code=abc123&state=xyz", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case result := <-resultCh:
		assert.Equal(t, "abc123", result.Code)
		assert.Equal(t, "xyz", result.State)
	case err := <-errCh:
		t.Fatalf("callback server error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for callback result")
	}
}

func TestRunCallbackServerTimesOutWithoutRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := RunCallbackServer(ctx, 18766)
	assert.Error(t, err)
}
