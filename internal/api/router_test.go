package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pysugar/quotawatch/internal/auth/google"
	"github.com/pysugar/quotawatch/internal/auth/token"
	"github.com/pysugar/quotawatch/internal/config"
	"github.com/pysugar/quotawatch/internal/db"
	"github.com/pysugar/quotawatch/internal/db/models"
	"github.com/pysugar/quotawatch/internal/schedule"
	"github.com/pysugar/quotawatch/internal/scheduler"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

var apiDBSeq int

type apiFixture struct {
	router  http.Handler
	store   *db.Store
	gdb     *gorm.DB
	cfgPath string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	apiDBSeq++
	dsn := fmt.Sprintf("file:apitest%d?mode=memory&cache=shared", apiDBSeq)
	gdb, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	store := db.NewStore(gdb)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"refreshed","expires_in":3600,"token_type":"Bearer"}`)
	}))
	t.Cleanup(provider.Close)

	exch := google.NewExchangerForEndpoints("client", "secret", oauth2.Endpoint{
		AuthURL:  provider.URL + "/auth",
		TokenURL: provider.URL + "/token",
	}, provider.URL+"/userinfo")
	evaluator := token.NewEvaluator(store, exch)

	cfgPath := filepath.Join(t.TempDir(), "quotawatch.yaml")
	cfg := config.Default()
	sched := scheduler.New()
	t.Cleanup(sched.Stop)
	ctl := NewScheduleController(cfgPath, cfg, sched, func() error { return nil })

	f := &apiFixture{
		store:   store,
		gdb:     gdb,
		cfgPath: cfgPath,
	}
	f.router = NewRouter(Deps{
		DB:        gdb,
		Store:     store,
		Evaluator: evaluator,
		Sessions:  google.NewSessionManager(store, exch),
		Checker:   nil,
		Schedule:  ctl,
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for _, m := range mutate {
		m(req)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("bad JSON response %q: %v", rr.Body.String(), err)
	}
}

func (f *apiFixture) seedAccount(t *testing.T, email string, primary bool) {
	t.Helper()
	if err := f.store.Put(&models.Account{
		ID:           "id-" + email,
		Email:        email,
		AccessToken:  "access-token-value-" + strings.Repeat("x", 24),
		RefreshToken: "refresh-" + email,
		ExpiresAt:    time.Now().Add(time.Hour),
		IsPrimary:    primary,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	rr := f.do(t, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rr.Code)
	}
	var body map[string]string
	decodeBody(t, rr, &body)
	if body["status"] != "ok" {
		t.Errorf("unexpected health payload: %v", body)
	}
}

func TestAccountsList_MasksTokens(t *testing.T) {
	f := newAPIFixture(t)
	f.seedAccount(t, "a@x.com", true)

	rr := f.do(t, http.MethodGet, "/api/accounts", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list = %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Accounts []map[string]interface{} `json:"accounts"`
	}
	decodeBody(t, rr, &body)
	if len(body.Accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(body.Accounts))
	}
	acc := body.Accounts[0]
	if acc["email"] != "a@x.com" {
		t.Errorf("email = %v", acc["email"])
	}
	masked, _ := acc["accessToken"].(string)
	if !strings.HasPrefix(masked, "...") {
		t.Errorf("access token must be masked, got %q", masked)
	}
	if strings.Contains(rr.Body.String(), "refresh-a@x.com") {
		t.Errorf("refresh token leaked into the listing")
	}
}

func TestPromoteAccount(t *testing.T) {
	f := newAPIFixture(t)
	f.seedAccount(t, "a@x.com", true)
	f.seedAccount(t, "b@x.com", false)

	rr := f.do(t, http.MethodPost, "/api/accounts/b@x.com/promote", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("promote = %d: %s", rr.Code, rr.Body.String())
	}
	acc, err := f.store.GetDefault()
	if err != nil || acc == nil || acc.Email != "b@x.com" {
		t.Fatalf("promotion did not stick: %+v, %v", acc, err)
	}

	rr = f.do(t, http.MethodPost, "/api/accounts/missing@x.com/promote", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("promoting unknown account = %d, want 404", rr.Code)
	}
}

func TestRevokeAccount(t *testing.T) {
	f := newAPIFixture(t)
	f.seedAccount(t, "a@x.com", true)

	rr := f.do(t, http.MethodDelete, "/api/accounts/a@x.com", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke = %d: %s", rr.Code, rr.Body.String())
	}
	if ok, _ := f.store.Has("a@x.com"); ok {
		t.Fatalf("account still present after revoke")
	}

	rr = f.do(t, http.MethodDelete, "/api/accounts/a@x.com", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("revoking twice = %d, want 404", rr.Code)
	}
}

func TestRevokeAll(t *testing.T) {
	f := newAPIFixture(t)
	f.seedAccount(t, "a@x.com", true)
	f.seedAccount(t, "b@x.com", false)

	rr := f.do(t, http.MethodDelete, "/api/accounts", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke all = %d", rr.Code)
	}
	accounts, _ := f.store.List()
	if len(accounts) != 0 {
		t.Fatalf("%d account(s) survived revoke all", len(accounts))
	}
}

func TestTokenStatus_HealthyAndUnhealthy(t *testing.T) {
	f := newAPIFixture(t)
	f.seedAccount(t, "a@x.com", true)

	rr := f.do(t, http.MethodGet, "/api/token?account=a@x.com", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("healthy token = %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]interface{}
	decodeBody(t, rr, &body)
	if body["state"] != "ok" {
		t.Errorf("state = %v", body["state"])
	}
	tok, _ := body["accessToken"].(string)
	if !strings.HasPrefix(tok, "...") {
		t.Errorf("status payload must mask the token, got %q", tok)
	}

	rr = f.do(t, http.MethodGet, "/api/token?account=unknown@x.com", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("missing account status = %d, want 409", rr.Code)
	}
	decodeBody(t, rr, &body)
	if body["state"] != "missing" {
		t.Errorf("state = %v, want missing", body["state"])
	}
}

func TestScheduleGetAndUpdate(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/api/schedule", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get schedule = %d", rr.Code)
	}
	var view struct {
		Crontab  string      `json:"crontab"`
		NextRuns []time.Time `json:"nextRuns"`
	}
	decodeBody(t, rr, &view)
	if view.Crontab != "0 8 * * *" {
		t.Errorf("default crontab = %q", view.Crontab)
	}
	if len(view.NextRuns) != schedule.DefaultPreviewRuns {
		t.Errorf("expected %d preview runs, got %d", schedule.DefaultPreviewRuns, len(view.NextRuns))
	}

	rr = f.do(t, http.MethodPut, "/api/schedule",
		`{"enabled":true,"mode":"daily","times":["07:00","19:00"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update schedule = %d: %s", rr.Code, rr.Body.String())
	}
	decodeBody(t, rr, &view)
	if view.Crontab != "0 7,19 * * *" {
		t.Errorf("updated crontab = %q", view.Crontab)
	}

	// Update must have been persisted to the config file.
	cfg, err := config.Load(f.cfgPath)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if cfg.Schedule.Effective() != "0 7,19 * * *" {
		t.Errorf("persisted crontab = %q", cfg.Schedule.Effective())
	}
}

func TestScheduleUpdate_RejectsInvalid(t *testing.T) {
	f := newAPIFixture(t)
	rr := f.do(t, http.MethodPut, "/api/schedule",
		`{"enabled":true,"mode":"daily","crontab":"99 99 * * *"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid schedule update = %d, want 400", rr.Code)
	}
	// The active schedule is unchanged.
	if got := f.do(t, http.MethodGet, "/api/schedule", ""); !strings.Contains(got.Body.String(), "0 8 * * *") {
		t.Errorf("active schedule mutated by rejected update")
	}
}

func TestValidateCrontab(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/schedule/validate", `{"crontab":"0 8 * * *;30 12 * * 1-5"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("valid crontab = %d: %s", rr.Code, rr.Body.String())
	}
	var result schedule.ParseResult
	decodeBody(t, rr, &result)
	if !result.Valid || len(result.NextRuns) == 0 {
		t.Errorf("unexpected parse result: %+v", result)
	}

	rr = f.do(t, http.MethodPost, "/api/schedule/validate", `{"crontab":"not a crontab"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid crontab = %d, want 422", rr.Code)
	}
}

func TestCheckHistoryEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	for i := 0; i < 3; i++ {
		rec := models.CheckRecord{
			ID:        fmt.Sprintf("rec-%d", i),
			RunID:     "run-1",
			Email:     "a@x.com",
			Outcome:   "ok",
			StartedAt: time.Now().Add(time.Duration(i) * time.Minute),
		}
		if err := f.store.AddCheckRecord(&rec); err != nil {
			t.Fatal(err)
		}
	}

	rr := f.do(t, http.MethodGet, "/api/checks?limit=2", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("history = %d", rr.Code)
	}
	var body struct {
		Checks []models.CheckRecord `json:"checks"`
	}
	decodeBody(t, rr, &body)
	if len(body.Checks) != 2 {
		t.Fatalf("limit ignored, got %d records", len(body.Checks))
	}
	if body.Checks[0].ID != "rec-2" {
		t.Errorf("history not newest-first: %s", body.Checks[0].ID)
	}
}

func TestAPIKeyAuth_MachineSurface(t *testing.T) {
	f := newAPIFixture(t)
	f.seedAccount(t, "a@x.com", true)
	key := db.GetAPIKey(f.gdb)
	if key == "" {
		t.Fatal("open must have generated an API key")
	}

	rr := f.do(t, http.MethodGet, "/v1/token", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated /v1 = %d, want 401", rr.Code)
	}

	rr = f.do(t, http.MethodGet, "/v1/token", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+key)
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("bearer-authenticated /v1 = %d: %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodGet, "/v1/token", "", func(r *http.Request) {
		r.Header.Set("x-api-key", key)
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("x-api-key-authenticated /v1 = %d", rr.Code)
	}

	rr = f.do(t, http.MethodGet, "/v1/token", "", func(r *http.Request) {
		r.Header.Set("x-api-key", "wrong")
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key = %d, want 401", rr.Code)
	}
}

func TestRegenerateAPIKey(t *testing.T) {
	f := newAPIFixture(t)
	before := db.GetAPIKey(f.gdb)

	rr := f.do(t, http.MethodPost, "/api/config/apikey/regenerate", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("regenerate = %d", rr.Code)
	}
	var body map[string]string
	decodeBody(t, rr, &body)
	after := body["apiKey"]
	if after == "" || after == before {
		t.Fatalf("key not rotated: %q -> %q", before, after)
	}
	if db.GetAPIKey(f.gdb) != after {
		t.Errorf("rotated key not persisted")
	}
	if !strings.HasPrefix(after, "qw-") {
		t.Errorf("unexpected key format: %q", after)
	}
}

func TestAdminBasicAuth(t *testing.T) {
	f := newAPIFixture(t)
	guarded := NewRouter(Deps{
		DB:            f.gdb,
		Store:         f.store,
		AdminPassword: "hunter2",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	rr := httptest.NewRecorder()
	guarded.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated admin call = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req.SetBasicAuth("admin", "hunter2")
	rr = httptest.NewRecorder()
	guarded.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("authenticated admin call = %d: %s", rr.Code, rr.Body.String())
	}

	// Health stays open regardless.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr = httptest.NewRecorder()
	guarded.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz behind auth = %d", rr.Code)
	}
}
