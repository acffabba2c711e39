package google

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/quotawatch/internal/db"
	"github.com/pysugar/quotawatch/internal/db/models"
)

// DefaultAuthWait is how long Wait blocks for the callback when the caller
// does not pick a timeout.
const DefaultAuthWait = 5 * time.Minute

// SessionManager orchestrates one authorization attempt end-to-end: build
// the authorization URL, run the callback listener, exchange the code,
// resolve the account email and commit the credential.
//
// At most one session is active at a time. Beginning a second while one is
// pending returns the existing session's URL instead of erroring.
type SessionManager struct {
	store *db.Store
	exch  *Exchanger

	// basePort overrides the callback port walk start; zero means default.
	basePort int

	mu     sync.Mutex
	active *session
}

type session struct {
	state    string
	authURL  string
	listener *Listener
}

// NewSessionManager wires the session manager to its store and exchanger.
func NewSessionManager(store *db.Store, exch *Exchanger) *SessionManager {
	return &SessionManager{
		store: store,
		exch:  exch,
	}
}

// Begin starts an authorization session and returns the URL the user's
// browser must visit. Idempotent while a session is pending.
func (m *SessionManager) Begin() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		log.Printf("[OAuth] Session already pending, returning existing auth URL")
		return m.active.authURL, nil
	}

	state := newStateToken()
	listener, err := newListener(m.basePort, state)
	if err != nil {
		return "", err
	}

	authURL := m.exch.AuthCodeURL(state, listener.RedirectURI())
	m.active = &session{
		state:    state,
		authURL:  authURL,
		listener: listener,
	}
	log.Printf("[OAuth] Authorization session started (redirect %s)", listener.RedirectURI())
	return authURL, nil
}

// Wait blocks until the callback resolves a code, the timeout elapses or the
// context is cancelled, then finishes the flow: code exchange, userinfo
// email lookup, credential commit. The listener and session are torn down on
// every terminal outcome; failed sessions never write partial credentials.
func (m *SessionManager) Wait(ctx context.Context, timeout time.Duration) (*models.Account, error) {
	if timeout <= 0 {
		timeout = DefaultAuthWait
	}

	m.mu.Lock()
	sess := m.active
	m.mu.Unlock()
	if sess == nil {
		return nil, ErrNoPendingSession
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res callbackResult
	select {
	case res = <-sess.listener.Result():
	case <-timer.C:
		m.teardown(sess)
		return nil, ErrAuthorizationTimeout
	case <-ctx.Done():
		m.teardown(sess)
		return nil, fmt.Errorf("%w: %v", ErrAuthorizationCancelled, ctx.Err())
	}

	if res.err != nil {
		m.teardown(sess)
		return nil, res.err
	}

	account, err := m.finish(ctx, sess, res.code)
	m.teardown(sess)
	return account, err
}

// Cancel rejects the pending wait and clears session state. No-op without a
// pending session.
func (m *SessionManager) Cancel() {
	m.mu.Lock()
	sess := m.active
	m.mu.Unlock()
	if sess == nil {
		return
	}
	sess.listener.resolve(callbackResult{err: ErrAuthorizationCancelled})
	m.teardown(sess)
	log.Printf("[OAuth] Authorization session cancelled")
}

// Active reports whether a session is pending.
func (m *SessionManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

func (m *SessionManager) teardown(sess *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == sess {
		m.active = nil
	}
	sess.listener.Close()
}

// finish exchanges the code and commits the resulting credential.
func (m *SessionManager) finish(ctx context.Context, sess *session, code string) (*models.Account, error) {
	bundle, err := m.exch.ExchangeCode(ctx, code, sess.listener.RedirectURI())
	if err != nil {
		return nil, err
	}

	email, err := m.exch.FetchUserEmail(ctx, bundle.AccessToken)
	if err != nil {
		return nil, err
	}

	account, err := m.commit(email, bundle)
	if err != nil {
		return nil, err
	}
	log.Printf("✅ Authorized account: %s", email)
	return account, nil
}

// commit upserts the credential. An existing email is updated in place
// (re-authorization clears the invalid flag, keeps ID and primary status);
// a new email creates an entry, primary when it is the first account.
func (m *SessionManager) commit(email string, bundle *TokenBundle) (*models.Account, error) {
	existing, err := m.store.Get(email)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Email:        email,
		ClientID:     m.exch.ClientID(),
		ClientSecret: m.exch.ClientSecret(),
		AccessToken:  bundle.AccessToken,
		RefreshToken: bundle.RefreshToken,
		ExpiresAt:    bundle.ExpiresAt,
		Scopes:       models.JoinScopes(bundle.Scopes),
		IsInvalid:    false,
	}

	if existing != nil {
		account.ID = existing.ID
		account.IsPrimary = existing.IsPrimary
		account.ProjectID = existing.ProjectID
		account.CreatedAt = existing.CreatedAt
		log.Printf("[OAuth] Updated existing account: %s (ID: %s)", email, account.ID)
	} else {
		account.ID = uuid.New().String()
		hasPrimary, err := m.store.HasPrimary()
		if err != nil {
			return nil, err
		}
		account.IsPrimary = !hasPrimary
		log.Printf("[OAuth] Created new account: %s (ID: %s, Primary: %v)", email, account.ID, account.IsPrimary)
	}

	if err := m.store.Put(account); err != nil {
		return nil, fmt.Errorf("failed to save account: %w", err)
	}
	return account, nil
}

// newStateToken generates the 32-character session token that binds one
// authorization attempt to its callback.
func newStateToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
