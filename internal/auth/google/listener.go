package google

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"
)

const (
	// CallbackBasePort is the first port tried for the redirect listener
	// (same port family the Antigravity IDE registers).
	CallbackBasePort = 51121

	// callbackPortAttempts bounds the port walk.
	callbackPortAttempts = 20
)

type callbackResult struct {
	code string
	err  error
}

// Listener is the ephemeral local HTTP server that receives the provider's
// redirect. It resolves at most one pending authorization attempt: the first
// callback whose state matches wins, everything else is answered 400 without
// touching session state.
type Listener struct {
	listener net.Listener
	server   *http.Server
	host     string // "127.0.0.1" or "[::1]"
	port     int
	state    string

	resultCh    chan callbackResult
	resolveOnce sync.Once
	closeOnce   sync.Once
}

// newListener binds a loopback port and starts serving the callback handler.
// The walk starts at basePort on IPv4; "address in use" advances to the next
// port, while any other bind error retries the same port on the IPv6
// loopback first — restricted environments sometimes disable one address
// family entirely.
func newListener(basePort int, state string) (*Listener, error) {
	if basePort <= 0 {
		basePort = CallbackBasePort
	}

	var ln net.Listener
	var host string
	for i := 0; i < callbackPortAttempts; i++ {
		port := basePort + i

		v4, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			ln, host = v4, "127.0.0.1"
			break
		}
		if isAddrInUse(err) {
			continue
		}

		v6, err6 := net.Listen("tcp", fmt.Sprintf("[::1]:%d", port))
		if err6 == nil {
			ln, host = v6, "[::1]"
			break
		}
	}
	if ln == nil {
		return nil, fmt.Errorf("%w: tried ports %d-%d on both loopback families",
			ErrNoPortAvailable, basePort, basePort+callbackPortAttempts-1)
	}

	l := &Listener{
		listener: ln,
		host:     host,
		port:     ln.Addr().(*net.TCPAddr).Port,
		state:    state,
		resultCh: make(chan callbackResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleCallback)
	l.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[OAuth] Callback server error: %v", err)
		}
	}()

	log.Printf("[OAuth] Callback server listening on %s:%d", host, l.port)
	return l, nil
}

// RedirectURI returns the literal redirect URI for the bound host and port.
// The IPv6 loopback stays bracketed.
func (l *Listener) RedirectURI() string {
	return fmt.Sprintf("http://%s:%d/oauth/callback", l.host, l.port)
}

// Result is the single-slot rendezvous the session manager waits on.
func (l *Listener) Result() <-chan callbackResult {
	return l.resultCh
}

// resolve settles the pending attempt exactly once. Returns false when a
// previous callback already resolved it.
func (l *Listener) resolve(res callbackResult) bool {
	delivered := false
	l.resolveOnce.Do(func() {
		l.resultCh <- res
		delivered = true
	})
	return delivered
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		l.resolve(callbackResult{err: &DeniedError{Reason: errParam}})
		writeCallbackPage(w, http.StatusBadRequest, "Authorization failed",
			fmt.Sprintf("The provider reported: %s", errParam))
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state != l.state {
		// Stray, stale-state or duplicate request: answer 400, leave the
		// pending session untouched.
		writeCallbackPage(w, http.StatusBadRequest, "Invalid request",
			"This callback did not match a pending authorization attempt.")
		return
	}

	if !l.resolve(callbackResult{code: code}) {
		writeCallbackPage(w, http.StatusBadRequest, "Already completed",
			"This authorization attempt has already been processed.")
		return
	}

	writeCallbackPage(w, http.StatusOK, "Login successful",
		"You can close this window and return to quotawatch.")
}

// Close shuts the server down. Idempotent; safe on every terminal outcome.
func (l *Listener) Close() {
	l.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.server.Shutdown(ctx); err != nil {
			log.Printf("[OAuth] Error shutting down callback server: %v", err)
		}
		log.Printf("[OAuth] Callback server stopped")
	})
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

func writeCallbackPage(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	color := "#4ade80"
	if status != http.StatusOK {
		color = "#f87171"
	}
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<title>%s</title>
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; background: #1a1a2e; color: #eee; text-align: center; }
		h1 { color: %s; font-size: 24px; }
		p { color: #9ca3af; }
	</style>
</head>
<body>
	<h1>%s</h1>
	<p>%s</p>
</body>
</html>`, title, color, title, detail)
}
