// Package token classifies stored credentials into a closed set of health
// states and performs the proactive refresh when a token is about to expire.
package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/quotawatch/internal/auth/google"
	"github.com/pysugar/quotawatch/internal/db"
	"github.com/pysugar/quotawatch/internal/db/models"
	"github.com/pysugar/quotawatch/internal/util"
)

// RefreshBuffer is how much remaining lifetime a token must have to be
// served without a refresh. Below it we refresh proactively so a caller
// never receives a token that expires mid-use.
const RefreshBuffer = 5 * time.Minute

// State classifies a stored credential at evaluation time.
type State string

const (
	StateOK            State = "ok"
	StateMissing       State = "missing"
	StateExpired       State = "expired"
	StateInvalidGrant  State = "invalid_grant"
	StateRefreshFailed State = "refresh_failed"
)

// ErrEmailUnresolved is returned when neither userinfo nor the caller could
// supply an account identity for a credential.
var ErrEmailUnresolved = errors.New("could not resolve account email")

// Result is the transient outcome of one evaluation; it is never persisted.
// AccessToken is set only for StateOK, Err only for failure states.
type Result struct {
	State       State
	Email       string
	AccessToken string
	Err         error
}

// Evaluator decides whether a stored credential is directly usable, needs
// refreshing, or is unusable, and persists refresh outcomes.
type Evaluator struct {
	store *db.Store
	exch  *google.Exchanger
	now   func() time.Time
}

// NewEvaluator wires the evaluator to its store and exchanger.
func NewEvaluator(store *db.Store, exch *google.Exchanger) *Evaluator {
	return &Evaluator{
		store: store,
		exch:  exch,
		now:   time.Now,
	}
}

// Status evaluates the credential for an account. An empty email selects the
// primary (or only) account. Concurrent callers for the same account may
// each trigger a refresh; that is acceptable since the provider keeps the
// old refresh token valid until a new access token is issued.
func (e *Evaluator) Status(ctx context.Context, email string) Result {
	account, err := e.load(email)
	if err != nil {
		return Result{State: StateMissing, Email: email, Err: err}
	}
	if account == nil || account.RefreshToken == "" {
		return Result{State: StateMissing, Email: email, Err: fmt.Errorf("no stored credential")}
	}

	now := e.now()
	remaining := account.ExpiresAt.Sub(now)
	if remaining >= RefreshBuffer {
		return Result{State: StateOK, Email: account.Email, AccessToken: account.AccessToken}
	}

	alreadyExpired := now.After(account.ExpiresAt)

	bundle, err := e.exch.Refresh(ctx, account.RefreshToken)
	if err != nil {
		if errors.Is(err, google.ErrInvalidGrant) {
			// Sticky: the account needs interactive re-authorization.
			if markErr := e.store.MarkInvalid(account.Email, true); markErr != nil {
				log.Printf("⚠️ Failed to mark account %s invalid: %v", account.Email, markErr)
			}
			log.Printf("🔒 Refresh token for %s rejected by provider, re-login required", account.Email)
			if alreadyExpired {
				return Result{State: StateExpired, Email: account.Email, Err: err}
			}
			// The token had not visibly expired yet; preserve the
			// distinction and let callers decide how to treat it.
			return Result{State: StateInvalidGrant, Email: account.Email, Err: err}
		}
		log.Printf("⏳ Transient refresh failure for %s: %v", account.Email, err)
		return Result{State: StateRefreshFailed, Email: account.Email, Err: err}
	}

	rotated := ""
	if bundle.RefreshToken != "" && bundle.RefreshToken != account.RefreshToken {
		log.Printf("🔄 Rotating refresh token for: %s", account.Email)
		rotated = bundle.RefreshToken
	}
	if err := e.store.UpdateAccessToken(account.Email, bundle.AccessToken, bundle.ExpiresAt, rotated); err != nil {
		return Result{State: StateRefreshFailed, Email: account.Email, Err: fmt.Errorf("failed to persist refreshed token: %w", err)}
	}

	log.Printf("✅ Refreshed token for: %s (expires: %s, token: %s)",
		account.Email, bundle.ExpiresAt.Format(time.RFC3339), util.MaskToken(bundle.AccessToken))
	return Result{State: StateOK, Email: account.Email, AccessToken: bundle.AccessToken}
}

// BuildFromRefreshToken constructs a full credential from an
// externally-obtained refresh token: one refresh exchange for an access
// token, then a userinfo lookup for the identity, falling back to the
// caller-supplied email. The account identity must be known before the
// credential is accepted into storage.
func (e *Evaluator) BuildFromRefreshToken(ctx context.Context, refreshToken, fallbackEmail string) (*models.Account, error) {
	bundle, err := e.exch.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	email, err := e.exch.FetchUserEmail(ctx, bundle.AccessToken)
	if err != nil {
		if fallbackEmail == "" {
			return nil, fmt.Errorf("%w: %v", ErrEmailUnresolved, err)
		}
		log.Printf("⚠️ Userinfo lookup failed, using supplied email %s: %v", fallbackEmail, err)
		email = fallbackEmail
	}

	// The provider may rotate the supplied refresh token during the exchange.
	finalRefresh := refreshToken
	if bundle.RefreshToken != "" {
		finalRefresh = bundle.RefreshToken
	}

	account := &models.Account{
		Email:        email,
		ClientID:     e.exch.ClientID(),
		ClientSecret: e.exch.ClientSecret(),
		AccessToken:  bundle.AccessToken,
		RefreshToken: finalRefresh,
		ExpiresAt:    bundle.ExpiresAt,
		Scopes:       models.JoinScopes(bundle.Scopes),
		IsInvalid:    false,
	}

	existing, err := e.store.Get(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		account.ID = existing.ID
		account.IsPrimary = existing.IsPrimary
		account.ProjectID = existing.ProjectID
		account.CreatedAt = existing.CreatedAt
	} else {
		account.ID = uuid.New().String()
		hasPrimary, err := e.store.HasPrimary()
		if err != nil {
			return nil, err
		}
		account.IsPrimary = !hasPrimary
	}

	if err := e.store.Put(account); err != nil {
		return nil, fmt.Errorf("failed to save imported account: %w", err)
	}
	log.Printf("✅ Imported account from refresh token: %s", email)
	return account, nil
}

func (e *Evaluator) load(email string) (*models.Account, error) {
	if email == "" {
		return e.store.GetDefault()
	}
	return e.store.Get(email)
}
