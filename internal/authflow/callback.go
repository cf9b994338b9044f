package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/httplog/v3"

	"github.com/agoras-social/agoras/internal/credential"
)

const successPage = `<!DOCTYPE html>
<html>
<head><title>agoras</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h1>Authorization received</h1>
<p>You can close this tab and return to the terminal.</p>
</body>
</html>`

const failurePage = `<!DOCTYPE html>
<html>
<head><title>agoras</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h1>Authorization failed</h1>
<p>The provider reported an error. Check the terminal for details.</p>
</body>
</html>`

// Listener is a single-shot loopback HTTP server that captures one OAuth
// redirect. It serves exactly one callback request on the configured path and
// ignores everything else (browsers routinely probe /favicon.ico).
type Listener struct {
	port int
	path string

	server   *http.Server
	resultCh chan url.Values
	once     sync.Once
}

// NewListener creates a listener for 127.0.0.1:port serving the given path.
func NewListener(port int, path string) *Listener {
	return &Listener{
		port:     port,
		path:     path,
		resultCh: make(chan url.Values, 1),
	}
}

// Start binds the port and begins serving in the background. A bind failure
// surfaces as credential.ErrPortInUse before any browser is opened.
func (l *Listener) Start(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", l.port)
	netListener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: cannot bind %s (%v); close the program using the port or wait for a concurrent authorize run to finish",
			credential.ErrPortInUse, addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+l.path, l.handleCallback)

	l.server = &http.Server{
		Handler:     httplog.RequestLogger(slog.Default(), &httplog.Options{Schema: httplog.SchemaECS.Concise(true)})(mux),
		ReadTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := l.server.Serve(netListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "callback listener failed", "error", err)
		}
	}()

	return nil
}

// handleCallback captures the query parameters of the first request and
// answers with a static result page. Later requests get the failure page but
// never reach the waiting flow.
func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	delivered := false
	l.once.Do(func() {
		l.resultCh <- params
		delivered = true
	})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if !delivered || params.Get("error") != "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprint(w, failurePage)
		return
	}
	_, _ = fmt.Fprint(w, successPage)
}

// Wait blocks until the callback arrives, the timeout elapses, or the context
// is cancelled. The listener is shut down on every exit path.
func (l *Listener) Wait(ctx context.Context, timeout time.Duration) (url.Values, error) {
	defer l.shutdown()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case params := <-l.resultCh:
		return params, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no callback within %s; complete the browser step faster or check that the browser opened",
			credential.ErrAuthorizationTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) shutdown() {
	if l.server == nil {
		return
	}
	// Short grace so the result page flushes to the browser.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.server.Shutdown(shutdownCtx); err != nil {
		_ = l.server.Close()
	}
}
