package google

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	googleOAuth "golang.org/x/oauth2/google"
)

// OAuth credentials from Antigravity (for learning/research purposes)
// Default values are used if environment variables are not set.
const (
	DefaultClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	DefaultClientSecret = "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"
)

// Scopes required for accessing the Cloud Code quota API
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/cclog",
	"https://www.googleapis.com/auth/experimentsandconfigs",
}

const defaultUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Closed error taxonomy for the OAuth boundary. Callers branch on these with
// errors.Is / errors.As, never on provider strings.
var (
	ErrNoPortAvailable        = errors.New("no callback port available")
	ErrRequestTimeout         = errors.New("oauth request timed out")
	ErrMissingRefreshToken    = errors.New("provider did not return a refresh token")
	ErrInvalidGrant           = errors.New("refresh token rejected by provider")
	ErrAuthorizationTimeout   = errors.New("authorization timed out")
	ErrAuthorizationCancelled = errors.New("authorization cancelled")
	ErrNoPendingSession       = errors.New("no pending authorization session")
)

// DeniedError carries the provider's error string from a callback redirect
// (e.g. the user declined consent).
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("authorization denied by provider: %s", e.Reason)
}

// ResolveClientCredentials returns the provider application identity,
// preferring the explicit values, then environment, then built-in defaults.
func ResolveClientCredentials(clientID, clientSecret string) (string, string) {
	if clientID == "" {
		clientID = os.Getenv("GOOGLE_CLIENT_ID")
	}
	if clientID == "" {
		clientID = DefaultClientID
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	}
	if clientSecret == "" {
		clientSecret = DefaultClientSecret
	}
	return clientID, clientSecret
}

// IsUsingDefaultOAuthCredentials returns true when either credential is using built-in defaults.
func IsUsingDefaultOAuthCredentials() bool {
	clientID := strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID"))
	clientSecret := strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_SECRET"))
	return clientID == "" || clientSecret == ""
}

func newOAuthConfig(clientID, clientSecret, redirectURL string, endpoint oauth2.Endpoint) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     endpoint,
	}
}

var googleEndpoint = googleOAuth.Endpoint
