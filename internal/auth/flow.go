package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cli/browser"
)

const callbackAddr = "127.0.0.1:9716"

// StartAuthFlow runs one complete linking attempt: it generates the
// per-flow secrets, opens the system browser on the authorization page,
// and blocks until the provider redirects back to the loopback listener
// (or ctx ends). The redirect itself is processed by HandleRedirect, so a
// redirect arriving in a later process works the same way.
func (m *Manager) StartAuthFlow(ctx context.Context, d Destination) error {
	authorizeURL, err := m.BeginFlow(d)
	if err != nil {
		return err
	}

	result := make(chan error, 1)
	srv, err := m.listenForRedirect(ctx, result)
	if err != nil {
		m.clearEphemeral()
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := browser.OpenURL(authorizeURL); err != nil {
		m.log.Warn("could not open browser", "error", err)
		fmt.Println("Open this URL in your browser to continue:")
		fmt.Println(authorizeURL)
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		m.clearEphemeral()
		return ctx.Err()
	}
}

// listenForRedirect serves exactly one callback on the registered loopback
// address and reports the outcome of handling it.
func (m *Manager) listenForRedirect(ctx context.Context, result chan<- error) (*http.Server, error) {
	ln, err := net.Listen("tcp", callbackAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", callbackAddr, err)
	}

	mux := http.NewServeMux()
	srv := &http.Server{Handler: mux}

	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		err := m.HandleRedirect(ctx, r.URL)

		w.Header().Set("Content-Type", "text/html")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "<h3>Linking failed</h3><p>You can close this window and try again from the app.</p>")
		} else {
			fmt.Fprint(w, "<h3>Account linked</h3><p>You can close this window and return to the app.</p>")
		}

		select {
		case result <- err:
		default:
		}
	})

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case result <- fmt.Errorf("callback server: %w", err):
			default:
			}
		}
	}()

	return srv, nil
}

// HandleRedirectURI is a convenience for redirects delivered out of band
// (e.g. pasted by the user after a headless flow).
func (m *Manager) HandleRedirectURI(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse redirect uri: %w", err)
	}
	return m.HandleRedirect(ctx, u)
}
