package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// oauthCallTimeout bounds every outbound token/userinfo HTTP call.
const oauthCallTimeout = 15 * time.Second

// TokenBundle is the result of a token-endpoint exchange.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// Exchanger performs the three OAuth2 HTTP exchanges against the provider's
// token and userinfo endpoints. It is stateless; every call is bounded by
// oauthCallTimeout and surfaces ErrRequestTimeout when exceeded.
type Exchanger struct {
	clientID     string
	clientSecret string
	endpoint     oauth2.Endpoint
	userinfoURL  string
}

// NewExchanger builds an exchanger for the Google endpoints. Empty client
// credentials fall back to environment variables, then built-in defaults.
func NewExchanger(clientID, clientSecret string) *Exchanger {
	id, secret := ResolveClientCredentials(clientID, clientSecret)
	return &Exchanger{
		clientID:     id,
		clientSecret: secret,
		endpoint:     googleEndpoint,
		userinfoURL:  defaultUserinfoURL,
	}
}

// NewExchangerForEndpoints builds an exchanger against explicit token and
// userinfo endpoints. This is the seam tests point at an httptest provider.
func NewExchangerForEndpoints(clientID, clientSecret string, endpoint oauth2.Endpoint, userinfoURL string) *Exchanger {
	return &Exchanger{
		clientID:     clientID,
		clientSecret: clientSecret,
		endpoint:     endpoint,
		userinfoURL:  userinfoURL,
	}
}

// ClientID returns the provider application ID in use.
func (e *Exchanger) ClientID() string { return e.clientID }

// ClientSecret returns the provider application secret in use.
func (e *Exchanger) ClientSecret() string { return e.clientSecret }

// AuthCodeURL builds the browser-navigated authorization URL. Offline access
// with forced consent is always requested so the provider issues a refresh
// token even on re-consent.
func (e *Exchanger) AuthCodeURL(state, redirectURI string) string {
	cfg := newOAuthConfig(e.clientID, e.clientSecret, redirectURI, e.endpoint)
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode swaps an authorization code for tokens.
func (e *Exchanger) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenBundle, error) {
	ctx, cancel := context.WithTimeout(ctx, oauthCallTimeout)
	defer cancel()

	cfg := newOAuthConfig(e.clientID, e.clientSecret, redirectURI, e.endpoint)
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrRequestTimeout, err)
		}
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, ErrMissingRefreshToken
	}

	return bundleFromToken(tok), nil
}

// Refresh mints a new access token from a refresh token. A provider-rejected
// grant is the distinguished ErrInvalidGrant outcome; everything else is a
// generic wrapped failure.
func (e *Exchanger) Refresh(ctx context.Context, refreshToken string) (*TokenBundle, error) {
	ctx, cancel := context.WithTimeout(ctx, oauthCallTimeout)
	defer cancel()

	cfg := newOAuthConfig(e.clientID, e.clientSecret, "", e.endpoint)
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %v", ErrRequestTimeout, err)
		case isInvalidGrant(err):
			return nil, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
		default:
			return nil, fmt.Errorf("token refresh failed: %w", err)
		}
	}

	return bundleFromToken(tok), nil
}

// FetchUserEmail resolves the account email behind an access token.
func (e *Exchanger) FetchUserEmail(ctx context.Context, accessToken string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, oauthCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.userinfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrRequestTimeout, err)
		}
		return "", fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("userinfo fetch failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var userInfo struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return "", fmt.Errorf("failed to decode user info: %w", err)
	}
	if userInfo.Email == "" {
		return "", fmt.Errorf("userinfo response carried no email")
	}
	return userInfo.Email, nil
}

func bundleFromToken(tok *oauth2.Token) *TokenBundle {
	bundle := &TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		bundle.Scopes = strings.Fields(scope)
	}
	return bundle
}

// isInvalidGrant is the single place that discriminates a permanently
// rejected refresh token. It prefers the structured RetrieveError code and
// falls back to substring matching on the provider message, which is
// documented Google behavior but inherently brittle.
func isInvalidGrant(err error) bool {
	if err == nil {
		return false
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		return re.ErrorCode == "invalid_grant"
	}

	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"token has been expired or revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
