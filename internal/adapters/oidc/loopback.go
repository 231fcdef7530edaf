package oidc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"
)

// LoopbackReceiver receives the authorization redirect on a local HTTP listener,
// the flow native apps use with a system browser.
type LoopbackReceiver struct {
	// RedirectURL must be an http URL on a loopback host, e.g. http://127.0.0.1:8765/callback.
	RedirectURL string
	// Open presents the authorization URL. Defaults to printing it to Out.
	Open func(authURL string) error
	// Out receives the authorization URL when Open is nil. Defaults to stderr.
	Out    io.Writer
	Logger *slog.Logger
}

var _ CodeReceiver = (*LoopbackReceiver)(nil)

// Authorize listens on the redirect address, presents authURL and waits for
// the first callback or ctx cancellation.
func (r *LoopbackReceiver) Authorize(ctx context.Context, authURL string) (Callback, error) {
	u, err := url.Parse(r.RedirectURL)
	if err != nil {
		return Callback{}, fmt.Errorf("parse redirect URL: %w", err)
	}
	if u.Scheme != "http" || !isLoopback(u.Hostname()) {
		return Callback{}, fmt.Errorf("redirect URL %q is not an http loopback address", r.RedirectURL)
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", u.Host)
	if err != nil {
		return Callback{}, fmt.Errorf("listen on %s: %w", u.Host, err)
	}

	results := make(chan Callback, 1)
	path := u.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		cb := Callback{
			Code:             q.Get("code"),
			State:            q.Get("state"),
			Error:            q.Get("error"),
			ErrorDescription: q.Get("error_description"),
		}
		select {
		case results <- cb:
		default:
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if cb.Error != "" {
			_, _ = io.WriteString(w, "Sign-in did not complete. You can close this window.\n")
			return
		}
		_, _ = io.WriteString(w, "Signed in. You can close this window.\n")
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			r.logger().Warn("loopback receiver stopped", "error", serveErr)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := r.open(authURL); err != nil {
		return Callback{}, fmt.Errorf("open authorization URL: %w", err)
	}

	select {
	case cb := <-results:
		return cb, nil
	case <-ctx.Done():
		return Callback{}, ctx.Err()
	}
}

func (r *LoopbackReceiver) open(authURL string) error {
	if r.Open != nil {
		return r.Open(authURL)
	}
	out := r.Out
	if out == nil {
		out = os.Stderr
	}
	_, err := fmt.Fprintf(out, "Open this URL in your browser to sign in:\n\n  %s\n\n", authURL)
	return err
}

func (r *LoopbackReceiver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
