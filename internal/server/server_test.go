package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/dukerupert/pursue/internal/auth"
	"github.com/dukerupert/pursue/internal/config"
	"github.com/dukerupert/pursue/internal/database"
	"github.com/dukerupert/pursue/internal/middleware"
	"github.com/dukerupert/pursue/internal/model"
	"github.com/dukerupert/pursue/internal/store"
)

const internalKey = "s3cret-internal-key"

type testServer struct {
	handler http.Handler
	token   string
	goalID  int64
}

func setupServer(t *testing.T, overrides map[string]any) testServer {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	hash, err := auth.HashKey(internalKey)
	if err != nil {
		t.Fatal(err)
	}
	v := viper.New()
	config.SetDefaults(v)
	v.Set("auth.jwt_secret", "test-secret")
	v.Set("auth.internal_key_hash", hash)
	v.Set("scheduler.enabled", false)
	for k, val := range overrides {
		v.Set(k, val)
	}
	cfg, err := config.Load(v, "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(ctx, db, cfg, logger)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	users := store.NewUserStore(db)
	progress := store.NewProgressStore(db)
	u, err := users.Create(ctx, "Alice", "UTC")
	if err != nil {
		t.Fatal(err)
	}
	groupID, err := progress.CreateGroup(ctx, "Readers")
	if err != nil {
		t.Fatal(err)
	}
	if err := progress.AddMember(ctx, groupID, u.ID); err != nil {
		t.Fatal(err)
	}
	g, err := progress.CreateGoal(ctx, groupID, "Read 20 pages", "daily")
	if err != nil {
		t.Fatal(err)
	}

	token, err := auth.NewTokens("test-secret", "").Issue(u.ID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return testServer{handler: srv.Router(), token: token, goalID: g.ID}
}

func (ts testServer) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts testServer) bearer() map[string]string {
	return map[string]string{"Authorization": "Bearer " + ts.token}
}

func TestHealth(t *testing.T) {
	ts := setupServer(t, nil)
	rec := ts.do("GET", "/health", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request ID header")
	}
}

func TestUserRoutesRequireToken(t *testing.T) {
	ts := setupServer(t, nil)

	if rec := ts.do("GET", "/api/reminders/preferences", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}
	bad := map[string]string{"Authorization": "Bearer nope"}
	if rec := ts.do("GET", "/api/reminders/preferences", "", bad); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}

	rec := ts.do("GET", "/api/reminders/preferences", "", ts.bearer())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var prefs []model.ReminderPreference
	if err := json.Unmarshal(rec.Body.Bytes(), &prefs); err != nil {
		t.Fatal(err)
	}
	if len(prefs) != 1 || prefs[0].GoalID != ts.goalID {
		t.Errorf("prefs = %+v", prefs)
	}
}

func TestPreferenceRoundTripThroughRouter(t *testing.T) {
	ts := setupServer(t, nil)
	path := "/api/reminders/preferences/" + strconv.FormatInt(ts.goalID, 10)

	rec := ts.do("PATCH", path, `{"aggressiveness":"persistent"}`, ts.bearer())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	rec = ts.do("GET", path, "", ts.bearer())
	if !strings.Contains(rec.Body.String(), `"persistent"`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestRecalculateIsRateLimited(t *testing.T) {
	ts := setupServer(t, map[string]any{"patterns.recalc_per_minute": 2})
	path := "/api/reminders/patterns/" + strconv.FormatInt(ts.goalID, 10) + "/recalculate"

	for i := 0; i < 2; i++ {
		if rec := ts.do("POST", path, "", ts.bearer()); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, body %s", i, rec.Code, rec.Body)
		}
	}
	rec := ts.do("POST", path, "", ts.bearer())
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestInternalRoutesRequireKey(t *testing.T) {
	ts := setupServer(t, nil)

	if rec := ts.do("POST", "/internal/jobs/process-reminders", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", rec.Code)
	}
	// A user token is not enough.
	if rec := ts.do("POST", "/internal/jobs/process-reminders", "", ts.bearer()); rec.Code != http.StatusUnauthorized {
		t.Errorf("user token: status = %d, want 401", rec.Code)
	}

	key := map[string]string{middleware.InternalKeyHeader: internalKey}
	for _, job := range []string{model.JobProcessReminders, model.JobRecalculatePatterns, model.JobUpdateEffectiveness} {
		rec := ts.do("POST", "/internal/jobs/"+job, "", key)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, body %s", job, rec.Code, rec.Body)
		}
	}

	rec := ts.do("GET", "/internal/jobs/"+model.JobProcessReminders+"/runs", "", key)
	var runs []model.JobRun
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Result != model.JobResultOK {
		t.Errorf("runs = %+v", runs)
	}
}

func TestMetricsAfterJob(t *testing.T) {
	ts := setupServer(t, nil)
	key := map[string]string{middleware.InternalKeyHeader: internalKey}
	ts.do("POST", "/internal/jobs/"+model.JobProcessReminders, "", key)

	rec := ts.do("GET", "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pursue_") {
		t.Error("expected pursue metrics in exposition")
	}
}
