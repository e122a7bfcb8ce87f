package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cms-backend/internal/auth"
	"cms-backend/internal/branches"
	"cms-backend/internal/logging"
	"cms-backend/internal/mail"
	"cms-backend/internal/media"
	"cms-backend/internal/metrics"
	"cms-backend/internal/models"
	"cms-backend/internal/testutil"
	"cms-backend/internal/users"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testSecret = "server-test-secret-0123456789abcdef"

type fixture struct {
	app    *fiber.App
	db     *gorm.DB
	tokens auth.TokenIssuer
	outbox *mail.Outbox
	h      *testutil.Hierarchy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	clock := testutil.NewClock()
	log := logging.Discard()
	outbox := &mail.Outbox{}
	reg := prometheus.NewRegistry()
	hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}
	tokens := auth.NewJWTIssuer(testSecret, clock.Now)

	creds := auth.NewCredentialService(auth.CredentialDeps{
		DB:      db,
		Hasher:  hasher,
		Tokens:  tokens,
		Limiter: auth.NewMemoryLimiter(5*time.Minute, clock.Now),
		Mailer:  outbox,
		Log:     log,
		Metrics: metrics.New(reg),
		Now:     clock.Now,
	})
	app := New(Deps{
		DB:          db,
		Log:         log,
		Tokens:      tokens,
		Credentials: creds,
		Users: users.NewService(users.Deps{
			DB:     db,
			Hasher: hasher,
			Images: media.NewDiskStore(t.TempDir(), 1<<20),
			Log:    log,
			Now:    clock.Now,
		}),
		Branches:    branches.NewService(db, log),
		Gatherer:    reg,
		CORSOrigins: "http://localhost:5173",
		DBTimeout:   5 * time.Second,
	})
	return &fixture{app: app, db: db, tokens: tokens, outbox: outbox, h: testutil.SeedHierarchy(t, db)}
}

func (f *fixture) token(t *testing.T, u *models.User) string {
	t.Helper()
	tok, _, err := f.tokens.Issue(u.ID, u.Role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path string, as *models.User, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+f.token(t, as))
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestLoginFlow(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/auth/login", nil, map[string]string{
		"email": "Editor@Example.com", "password": testutil.Password,
	})
	require.Equal(t, http.StatusOK, status)
	tok, _ := body["access_token"].(string)
	require.NotEmpty(t, tok)

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, body = f.do(t, http.MethodPost, "/api/auth/login", nil, map[string]string{
		"email": "editor@example.com", "password": "nope",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_credentials", body["code"])
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	f := newFixture(t)

	status, _ := f.do(t, http.MethodGet, "/api/users", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDeactivatedUserIsRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", f.h.Cat1.ID).Update("is_active", false).Error)

	status, _ := f.do(t, http.MethodGet, "/api/users/me", f.h.Cat1, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestListUsersRespectsVisibility(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/api/users", f.h.Editor, nil)
	require.Equal(t, http.StatusOK, status)
	items, _ := body["items"].([]any)
	assert.Len(t, items, 2)
	assert.EqualValues(t, 2, body["total"])

	status, _ = f.do(t, http.MethodGet, "/api/users/"+f.h.Admin.ID.String(), f.h.Senior, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = f.do(t, http.MethodGet, "/api/users?role=owner", f.h.Admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_failed", body["code"])
}

func TestCreateUserRoutes(t *testing.T) {
	f := newFixture(t)
	req := map[string]any{
		"email": "new@example.com", "password": testutil.Password, "full_name": "New", "role": "category_editor",
	}

	status, _ := f.do(t, http.MethodPost, "/api/users", f.h.Cat1, req)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = f.do(t, http.MethodPost, "/api/users", f.h.Senior, req)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := f.do(t, http.MethodPost, "/api/users", f.h.Editor, req)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, f.h.Editor.ID.String(), body["created_by_id"])
	assert.Equal(t, []any{}, body["branch_ids"])
	assert.NotContains(t, body, "password_hash")

	status, body = f.do(t, http.MethodPost, "/api/users", f.h.Editor, req)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", body["code"])
}

func TestFirstAdminBootstrapClosesAfterSeed(t *testing.T) {
	f := newFixture(t)
	status, _ := f.do(t, http.MethodPost, "/api/users/first-admin", nil, map[string]string{
		"email": "root@example.com", "password": testutil.Password,
	})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestBranchRoutes(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/branches", f.h.Admin, map[string]string{"name": "Kadikoy"})
	require.Equal(t, http.StatusCreated, status)
	id := body["id"].(string)

	status, _ = f.do(t, http.MethodPost, "/api/branches", f.h.Senior, map[string]string{"name": "Other"})
	assert.Equal(t, http.StatusCreated, status)

	status, _ = f.do(t, http.MethodPost, "/api/branches/"+id+"/users/"+f.h.Editor.ID.String(), f.h.Senior, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = f.do(t, http.MethodGet, "/api/branches/"+id+"/users/"+f.h.Editor.ID.String(), f.h.Senior, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["member"])

	status, body = f.do(t, http.MethodDelete, "/api/branches/"+id, f.h.Admin, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", body["code"])

	status, _ = f.do(t, http.MethodDelete, "/api/branches/"+id+"/users/"+f.h.Editor.ID.String(), f.h.Senior, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = f.do(t, http.MethodDelete, "/api/branches/"+id, f.h.Admin, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = f.do(t, http.MethodGet, "/api/branches/not-a-uuid", f.h.Admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestBranchRoutesRequireAdminOrSenior(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodPost, "/api/branches", f.h.Senior, map[string]string{"name": "Izmir"})
	require.Equal(t, http.StatusCreated, status)
	id := body["id"].(string)

	for _, u := range []*models.User{f.h.Editor, f.h.Cat1} {
		for _, r := range []struct{ method, path string }{
			{http.MethodGet, "/api/branches"},
			{http.MethodGet, "/api/branches/" + id},
			{http.MethodGet, "/api/branches/" + id + "/users"},
			{http.MethodPost, "/api/branches"},
			{http.MethodPatch, "/api/branches/" + id},
			{http.MethodDelete, "/api/branches/" + id},
		} {
			status, _ := f.do(t, r.method, r.path, u, map[string]string{"name": "X"})
			assert.Equal(t, http.StatusForbidden, status, "%s %s as %s", r.method, r.path, u.Role)
		}
	}

	status, _ = f.do(t, http.MethodPatch, "/api/branches/"+id, f.h.Senior, map[string]string{"description": "west"})
	assert.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodGet, "/api/branches/"+id+"/users", f.h.Senior, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestUserBranchesRoutes(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodPost, "/api/branches", f.h.Admin, map[string]string{"name": "Ankara"})
	require.Equal(t, http.StatusCreated, status)
	id := body["id"].(string)
	for _, u := range []*models.User{f.h.Cat1, f.h.Cat3} {
		status, _ = f.do(t, http.MethodPost, "/api/branches/"+id+"/users/"+u.ID.String(), f.h.Admin, nil)
		require.Equal(t, http.StatusOK, status)
	}

	status, _ = f.do(t, http.MethodGet, "/api/users/"+f.h.Cat1.ID.String()+"/branches", f.h.Editor, nil)
	assert.Equal(t, http.StatusOK, status)

	// Cat3 belongs to another editor.
	status, _ = f.do(t, http.MethodGet, "/api/users/"+f.h.Cat3.ID.String()+"/branches", f.h.Editor, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodDelete, "/api/users/"+f.h.Cat1.ID.String()+"/branches", f.h.Editor, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = f.do(t, http.MethodDelete, "/api/users/"+f.h.Cat1.ID.String()+"/branches", f.h.Senior, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["removed"])

	status, _ = f.do(t, http.MethodDelete, "/api/users/"+f.h.Admin.ID.String()+"/branches", f.h.Senior, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestPasswordResetOverHTTP(t *testing.T) {
	f := newFixture(t)

	status, _ := f.do(t, http.MethodPost, "/api/auth/request-password-reset", nil, map[string]string{"email": "cat1@example.com"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, f.outbox.Len())

	status, body := f.do(t, http.MethodPost, "/api/auth/request-password-reset", nil, map[string]string{"email": "cat1@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", body["code"])

	status, _ = f.do(t, http.MethodPost, "/api/auth/reset-password", nil, map[string]string{
		"token": "not-a-token", "new_password": "N3w-Passw0rd",
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAuditLogsAdminOnly(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/branches", f.h.Admin, map[string]string{"name": "Audited"})

	status, _ := f.do(t, http.MethodGet, "/api/audit-logs", f.h.Senior, nil)
	assert.Equal(t, http.StatusForbidden, status)

	req := httptest.NewRequest(http.MethodGet, "/api/audit-logs?entity_type=branch", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, f.h.Admin))
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var logs []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "create", logs[0]["action"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/auth/login", nil, map[string]string{"email": "x@example.com", "password": "x"})

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), `cms_logins_total{result="invalid_credentials"} 1`))
}
