// Package quota runs the scheduled action: a Cloud Code loadCodeAssist probe
// per stored account, recorded to check history. Quota values themselves are
// stored opaquely; nothing here computes or renders them.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/quotawatch/internal/auth/token"
	"github.com/pysugar/quotawatch/internal/db"
	"github.com/pysugar/quotawatch/internal/db/models"
	"github.com/pysugar/quotawatch/internal/logging"
	"github.com/pysugar/quotawatch/internal/util"
)

// Cloud Code endpoints with fallback (prod → daily)
var BaseURLs = []string{
	"https://cloudcode-pa.googleapis.com/v1internal",
	"https://daily-cloudcode-pa.googleapis.com/v1internal",
}

// UserAgent mimics the Antigravity IDE's user agent (the quota endpoint
// rejects unknown clients)
const UserAgent = "antigravity/1.11.9 windows/amd64"

// Checker is the quota-check runner: for each account it obtains a usable
// access token through the evaluator, probes the backend and records the
// outcome.
type Checker struct {
	store      *db.Store
	evaluator  *token.Evaluator
	httpClient *http.Client
	limiter    *RateLimiter
	baseURLs   []string
}

// NewChecker creates a checker with default endpoints and pacing.
func NewChecker(store *db.Store, evaluator *token.Evaluator) *Checker {
	return &Checker{
		store:      store,
		evaluator:  evaluator,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    NewRateLimiter(DefaultRateLimit),
		baseURLs:   BaseURLs,
	}
}

// RunAll checks every stored account once and returns the records written
// for this run. Accounts without a usable token are recorded as skipped, not
// errors; the run itself only fails when the store is unreachable.
func (c *Checker) RunAll(ctx context.Context) ([]models.CheckRecord, error) {
	runID := logging.GetRunID(ctx)
	if runID == "" {
		runID = logging.GenerateRunID()
		ctx = logging.WithRunID(ctx, runID)
	}

	accounts, err := c.store.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	log.Printf("🔍 [run %s] Quota check starting for %d account(s)", runID, len(accounts))

	var records []models.CheckRecord
	for _, acc := range accounts {
		rec := c.checkOne(ctx, runID, acc.Email)
		if err := c.store.AddCheckRecord(&rec); err != nil {
			log.Printf("⚠️ [run %s] Failed to record check for %s: %v", runID, acc.Email, err)
		}
		records = append(records, rec)
	}

	log.Printf("🏁 [run %s] Quota check finished (%d record(s))", runID, len(records))
	return records, nil
}

// CheckAccount checks a single account immediately.
func (c *Checker) CheckAccount(ctx context.Context, email string) (models.CheckRecord, error) {
	runID := logging.GetRunID(ctx)
	if runID == "" {
		runID = logging.GenerateRunID()
		ctx = logging.WithRunID(ctx, runID)
	}
	rec := c.checkOne(ctx, runID, email)
	if err := c.store.AddCheckRecord(&rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (c *Checker) checkOne(ctx context.Context, runID, email string) models.CheckRecord {
	started := time.Now()
	rec := models.CheckRecord{
		ID:        uuid.New().String(),
		RunID:     runID,
		Email:     email,
		StartedAt: started,
	}

	status := c.evaluator.Status(ctx, email)
	switch status.State {
	case token.StateOK:
		// proceed to probe
	case token.StateMissing, token.StateExpired, token.StateInvalidGrant:
		// Needs interactive (re-)authorization; nothing automated can fix it.
		log.Printf("⏭️ [run %s] Skipping %s: token %s", runID, email, status.State)
		rec.Outcome = "skipped"
		rec.Error = string(status.State)
		rec.DurationMS = time.Since(started).Milliseconds()
		return rec
	default:
		log.Printf("⏭️ [run %s] Refresh failed for %s: %v", runID, email, status.Err)
		rec.Outcome = "refresh_failed"
		if status.Err != nil {
			rec.Error = status.Err.Error()
		}
		rec.DurationMS = time.Since(started).Milliseconds()
		return rec
	}

	projectID, tier, err := c.probe(ctx, status.AccessToken)
	rec.DurationMS = time.Since(started).Milliseconds()
	if err != nil {
		log.Printf("❌ [run %s] Probe failed for %s: %v", runID, email, err)
		rec.Outcome = "probe_failed"
		rec.Error = err.Error()
		return rec
	}

	rec.Outcome = "ok"
	rec.ProjectID = projectID
	rec.Tier = tier
	if err := c.store.SetProjectID(email, projectID); err != nil {
		log.Printf("⚠️ [run %s] Failed to store project for %s: %v", runID, email, err)
	}
	if err := c.store.TouchChecked(email, started); err != nil {
		log.Printf("⚠️ [run %s] Failed to stamp check time for %s: %v", runID, email, err)
	}
	log.Printf("✅ [run %s] %s: project %s, tier %s (%dms)", runID, email, projectID, tier, rec.DurationMS)
	return rec
}

// probe calls loadCodeAssist, walking the base URL fallbacks on network
// errors and 5xx responses.
func (c *Checker) probe(ctx context.Context, accessToken string) (projectID, tier string, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", "", err
	}

	var lastErr error
	for _, base := range c.baseURLs {
		projectID, tier, lastErr = c.probeURL(ctx, base+":loadCodeAssist", accessToken)
		if lastErr == nil {
			return projectID, tier, nil
		}
		if !isRetryableProbeError(lastErr) {
			return "", "", lastErr
		}
		log.Printf("⚠️ loadCodeAssist via %s failed, trying fallback: %v", base, lastErr)
	}
	return "", "", lastErr
}

type probeStatusError struct {
	status     int
	retryAfter int
	body       string
}

func (e *probeStatusError) Error() string {
	return fmt.Sprintf("loadCodeAssist returned status %d: %s", e.status, e.body)
}

func isRetryableProbeError(err error) bool {
	if se, ok := err.(*probeStatusError); ok {
		return se.status >= 500
	}
	// Network-level failure: try the next base URL.
	return true
}

func (c *Checker) probeURL(ctx context.Context, url, accessToken string) (projectID, tier string, err error) {
	reqBody := strings.NewReader(`{"metadata": {"ideType": "ANTIGRAVITY"}}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reqBody)
	if err != nil {
		return "", "", fmt.Errorf("failed to create loadCodeAssist request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("loadCodeAssist request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read loadCodeAssist response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		c.limiter.RecordRateLimitError(retryAfter)
		return "", "", &probeStatusError{status: resp.StatusCode, retryAfter: retryAfter, body: util.TruncateBytes(bodyBytes)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", &probeStatusError{status: resp.StatusCode, body: util.TruncateBytes(bodyBytes)}
	}

	log.Printf("📋 loadCodeAssist response: %s", util.TruncateBytes(bodyBytes))
	return parseProbeResponse(bodyBytes)
}

func parseProbeResponse(body []byte) (projectID, tier string, err error) {
	var result struct {
		CloudaicompanionProject string `json:"cloudaicompanionProject"`
		PaidTier                *struct {
			ID string `json:"id"`
		} `json:"paidTier"`
		CurrentTier *struct {
			ID string `json:"id"`
		} `json:"currentTier"`
		Config struct {
			ProjectID string `json:"projectId"`
		} `json:"codeAssistConfig"`
		ManageSubscriptionUri string `json:"manageSubscriptionUri"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", "", fmt.Errorf("failed to parse loadCodeAssist response: %w", err)
	}

	projectID = result.CloudaicompanionProject
	if projectID == "" {
		projectID = result.Config.ProjectID
	}

	// Tier detection: prefer paidTier > currentTier > manageSubscriptionUri > FREE
	switch {
	case result.PaidTier != nil && result.PaidTier.ID != "":
		tier = result.PaidTier.ID
	case result.CurrentTier != nil && result.CurrentTier.ID != "":
		tier = result.CurrentTier.ID
	case result.ManageSubscriptionUri != "":
		tier = "PRO"
	default:
		tier = "FREE"
	}
	return projectID, tier, nil
}
