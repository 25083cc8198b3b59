package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	ipa "github.com/netresearch/ipa-admin-portal"
	"github.com/netresearch/ipa-admin-portal/internal/bulk"
	"github.com/netresearch/ipa-admin-portal/internal/excel"
	"github.com/netresearch/ipa-admin-portal/internal/metrics"
	"github.com/netresearch/ipa-admin-portal/internal/secretlink"
	"github.com/netresearch/ipa-admin-portal/internal/session"
	"github.com/netresearch/ipa-admin-portal/testutil"
)

type fakeLinks struct {
	checkErr error
}

func (f *fakeLinks) CreateLink(_ context.Context, username, _ string) (string, error) {
	return "https://secret.example/#/s/" + username, nil
}

func (f *fakeLinks) Check(context.Context) error {
	return f.checkErr
}

type testEnv struct {
	t   *testing.T
	dir *testutil.FakeDirectory
	srv *Server
}

type envOptions struct {
	cfg       Config
	links     secretlink.Generator
	metrics   *metrics.Metrics
	ttl       time.Duration
	connector ipa.Connector
}

func newTestEnv(t *testing.T, o envOptions) *testEnv {
	t.Helper()
	dir := testutil.NewFakeDirectory("admins", "developers")
	if o.ttl == 0 {
		o.ttl = time.Hour
	}
	if o.connector == nil {
		o.connector = &testutil.FakeConnector{Dir: dir, Credentials: map[string]string{"admin": "secret"}}
	}

	store := session.NewMemoryStore(0, nil)
	t.Cleanup(func() { _ = store.Close() })

	srv, err := New(o.cfg, Deps{
		Connector: o.connector,
		Sessions:  session.NewManager(store, o.ttl, nil),
		Links:     o.links,
		Metrics:   o.metrics,
	})
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	return &testEnv{t: t, dir: dir, srv: srv}
}

func (e *testEnv) do(req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postForm(path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req, cookie)
}

func (e *testEnv) postJSON(path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	data, err := json.Marshal(body)
	require.NoError(e.t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req, cookie)
}

func (e *testEnv) get(path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil), cookie)
}

func (e *testEnv) login() *http.Cookie {
	e.t.Helper()
	rec := e.postForm("/api/v1/session/login", url.Values{"username": {"admin"}, "password": {"secret"}}, nil)
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == "ipa_session" {
			return c
		}
	}
	e.t.Fatal("login did not set a session cookie")
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func xlsxUpload(t *testing.T, rows ...[]any) (io.Reader, string) {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	header := []any{"Full name", "Email", "Phone", "Title", "Groups"}
	all := append([][]any{header}, rows...)
	for i := range all {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &all[i]))
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "users.xlsx")
	require.NoError(t, err)
	require.NoError(t, f.Write(part))
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func (e *testEnv) upload(path string, cookie *http.Cookie, rows ...[]any) *httptest.ResponseRecorder {
	body, contentType := xlsxUpload(e.t, rows...)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	return e.do(req, cookie)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
	_, err = New(Config{}, Deps{Connector: &testutil.FakeConnector{}})
	assert.Error(t, err)
}

func TestLoginSetsSessionCookie(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.postForm("/api/v1/session/login", url.Values{"username": {"admin"}, "password": {"secret"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[loginResponse](t, rec)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "admin", body.User)
	assert.NotEmpty(t, body.SessionID)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "ipa_session", c.Name)
	assert.Equal(t, body.SessionID, c.Value)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, 3600, c.MaxAge)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.True(t, c.HttpOnly)
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name      string
		form      url.Values
		connector ipa.Connector
		status    int
	}{
		{
			name:   "missing password",
			form:   url.Values{"username": {"admin"}},
			status: http.StatusBadRequest,
		},
		{
			name:   "wrong password",
			form:   url.Values{"username": {"admin"}, "password": {"nope"}},
			status: http.StatusUnauthorized,
		},
		{
			name:      "locked out",
			form:      url.Values{"username": {"admin"}, "password": {"secret"}},
			connector: errConnector{err: fmt.Errorf("%w: try again later", ipa.ErrRateLimited)},
			status:    http.StatusTooManyRequests,
		},
		{
			name:      "directory unreachable",
			form:      url.Values{"username": {"admin"}, "password": {"secret"}},
			connector: errConnector{err: errors.New("dial tcp: connection refused")},
			status:    http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, envOptions{connector: tt.connector})
			rec := env.postForm("/api/v1/session/login", tt.form, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, ContentTypeProblemJSON, rec.Header().Get("Content-Type"))
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

type errConnector struct{ err error }

func (c errConnector) Login(context.Context, string, string) (ipa.Directory, error) {
	return nil, c.err
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.get("/api/v1/users/ivan.ivanov", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.get("/api/v1/users/ivan.ivanov", &http.Cookie{Name: "ipa_session", Value: "forged"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid session", decode[Problem](t, rec).Detail)
}

func TestExpiredSessionIsRejected(t *testing.T) {
	env := newTestEnv(t, envOptions{ttl: time.Nanosecond})
	cookie := env.login()

	rec := env.get("/api/v1/users/ivan.ivanov", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "session expired", decode[Problem](t, rec).Detail)
	assert.True(t, env.dir.Closed)
}

func TestLogoutEndsSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie := env.login()

	rec := env.postForm("/api/v1/session/logout", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "logged out"}, decode[map[string]string](t, rec))
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
	assert.True(t, env.dir.Closed)

	rec = env.get("/api/v1/users/ivan.ivanov", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logging out twice is harmless.
	rec = env.postForm("/api/v1/session/logout", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestShowUser(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.dir.AddTestUser("ivan.ivanov", "ivan@test.com")
	cookie := env.login()

	rec := env.get("/api/v1/users/ivan.ivanov", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	user := decode[ipa.User](t, rec)
	assert.Equal(t, "ivan.ivanov", user.UID)
	assert.Equal(t, []string{"ivan@test.com"}, user.Mail)

	rec = env.get("/api/v1/users/ghost.user", cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[Problem](t, rec).Detail, "ghost.user")
}

func TestSearchByEmail(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.dir.AddTestUser("petr.petrov", "petr@test.com")
	cookie := env.login()

	rec := env.get("/api/v1/users/search-by-email/Petr@Test.com", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[searchResponse](t, rec)
	assert.Equal(t, "petr@test.com", body.Query)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "petr.petrov", body.Users[0].UID)

	rec = env.get("/api/v1/users/search-by-email/nobody@test.com", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"query":"nobody@test.com","count":0,"users":[]}`, rec.Body.String())
}

func TestSingleOperations(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.dir.AddTestUser("ivan.ivanov")
	cookie := env.login()

	rec := env.postForm("/api/v1/users/ivan.ivanov/disable", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disable", decode[operationResponse](t, rec).Status)
	assert.True(t, env.dir.Users["ivan.ivanov"].Disabled)

	rec = env.postForm("/api/v1/users/ivan.ivanov/enable", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "enable", decode[operationResponse](t, rec).Status)
	assert.False(t, env.dir.Users["ivan.ivanov"].Disabled)

	rec = env.postForm("/api/v1/users/ivan.ivanov/delete", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[operationResponse](t, rec)
	assert.Equal(t, "ivan.ivanov", resp.Username)
	assert.Equal(t, "deleted", resp.Status)
	assert.False(t, env.dir.HasUser("ivan.ivanov"))

	rec = env.postForm("/api/v1/users/ivan.ivanov/delete", nil, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.postForm("/api/v1/users/ivan.ivanov/rename", nil, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSingleOperationUpstreamErrorIsVerbatim(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.dir.AddTestUser("ivan.ivanov")
	env.dir.Fail["DisableUser:ivan.ivanov"] = errors.New("Insufficient access: not allowed to disable admins")
	cookie := env.login()

	rec := env.postForm("/api/v1/users/ivan.ivanov/disable", nil, cookie)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "Insufficient access: not allowed to disable admins", decode[Problem](t, rec).Detail)
}

func TestDirectoryErrorDetailOmitsServer(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.dir.AddTestUser("ivan.ivanov")
	env.dir.Fail["DeleteUser:ivan.ivanov"] = ipa.NewDirectoryError("user_del", "https://ipa.internal.example", errors.New("denied")).
		WithCode(2100).
		WithMessage("ACIError", "Insufficient access: Insufficient 'delete' privilege")
	cookie := env.login()

	rec := env.postForm("/api/v1/users/ivan.ivanov/delete", nil, cookie)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	detail := decode[Problem](t, rec).Detail
	assert.Equal(t, "Insufficient access: Insufficient 'delete' privilege", detail)
	assert.NotContains(t, detail, "ipa.internal.example")
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t, envOptions{links: &fakeLinks{}})
	env.dir.AddTestUser("ivan.ivanov")
	cookie := env.login()

	rec := env.postForm("/api/v1/users/ivan.ivanov/reset-password", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[resetResponse](t, rec)
	assert.Equal(t, "ivan.ivanov", resp.Username)
	assert.Equal(t, "Reset-1", resp.Password)
	assert.Equal(t, "https://secret.example/#/s/ivan.ivanov", resp.SecretLink)
	assert.Empty(t, resp.SecretLinkError)
}

func TestCreateUserJSON(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie := env.login()

	rec := env.postJSON("/api/v1/creat-users", map[string]any{
		"first_name": "Иван",
		"last_name":  "Иванов",
		"email":      "ivan@test.com",
		"groups":     []string{"admins", "missing"},
	}, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[createUserResponse](t, rec)
	assert.Equal(t, "ivan.ivanov", resp.Username)
	assert.Equal(t, "Secret-1", resp.Password)
	assert.Equal(t, "ivan@test.com", resp.Email)
	require.NotNil(t, resp.Groups)
	assert.Equal(t, []string{"admins"}, resp.Groups.Attached)
	require.Len(t, resp.Groups.Failed, 1)
	assert.Equal(t, "missing", resp.Groups.Failed[0].Group)
	assert.Equal(t, "Иван Иванов", env.dir.Users["ivan.ivanov"].FullName)
}

func TestCreateUserJSONValidation(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie := env.login()

	rec := env.postJSON("/api/v1/creat-users", map[string]any{
		"first_name": "Ivan",
		"last_name":  "  ",
		"email":      "not-an-email",
	}, cookie)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	detail := decode[Problem](t, rec).Detail
	assert.Contains(t, detail, `last_name: failed "required"`)
	assert.Contains(t, detail, `email: failed "email"`)
	assert.Empty(t, env.dir.Mutations())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/creat-users", strings.NewReader("{"))
	rec = env.do(req, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateUserRollsBack(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie := env.login()

	rec := env.postJSON("/api/v1/creat-users", map[string]any{
		"first_name": "Ivan",
		"last_name":  "Ivanov",
		"email":      "ivan@test.com",
		"groups":     []string{"missing"},
	}, cookie)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode[Problem](t, rec).Detail, "missing")
	assert.False(t, env.dir.HasUser("ivan.ivanov"))
}

func TestCreateUserForm(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie := env.login()

	rec := env.postForm("/api/v1/users/create-form", url.Values{
		"first_name": {"Petr"},
		"last_name":  {"Petrov"},
		"email":      {"petr@test.com"},
		"title":      {"Engineer"},
		"groups":     {" admins, developers ,"},
	}, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[createUserResponse](t, rec)
	assert.Equal(t, "petr.petrov", resp.Username)
	require.NotNil(t, resp.Groups)
	assert.Equal(t, []string{"admins", "developers"}, resp.Groups.Attached)
	assert.Equal(t, "Engineer", env.dir.Users["petr.petrov"].Title)
}

func TestBulkDelete(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.dir.AddTestUser("ivan.ivanov", "ivan@test.com")
	env.dir.AddTestUser("petr.petrov", "petr@test.com")
	cookie := env.login()

	rec := env.postJSON("/api/v1/users/bulk-delete", []string{"ivan.ivanov", "petr@test.com", "ghost.user"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	report := decode[bulk.OperationReport](t, rec)
	assert.Equal(t, bulk.OpDelete, report.Operation)
	require.Len(t, report.Success, 2)
	assert.Equal(t, "ivan.ivanov", report.Success[0].Username)
	assert.Equal(t, "petr@test.com", report.Success[1].Identifier)
	assert.Equal(t, "petr.petrov", report.Success[1].Username)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "ghost.user", report.Failed[0].Identifier)
	assert.Contains(t, report.Failed[0].Error, "not found")
	assert.False(t, env.dir.HasUser("ivan.ivanov"))
	assert.False(t, env.dir.HasUser("petr.petrov"))
}

func TestBulkResetPasswordAndMetrics(t *testing.T) {
	m := metrics.New(nil)
	env := newTestEnv(t, envOptions{
		cfg:     Config{MetricsPath: "/metrics"},
		links:   &fakeLinks{},
		metrics: m,
	})
	env.dir.AddTestUser("ivan.ivanov")
	cookie := env.login()

	rec := env.postJSON("/api/v1/users/bulk-reset-password", []string{"ivan.ivanov"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[bulk.OperationReport](t, rec)
	require.Len(t, report.Success, 1)
	assert.Equal(t, "https://secret.example/#/s/ivan.ivanov", report.Success[0].SecretLink)

	rec = env.get("/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	text := rec.Body.String()
	assert.Contains(t, text, `ipa_portal_logins_total{outcome="success"} 1`)
	assert.Contains(t, text, `ipa_portal_bulk_items_total{operation="reset-password",outcome="success"} 1`)
	assert.Contains(t, text, `ipa_portal_directory_calls_total{op="user_reset_password",outcome="success"} 1`)
}

func TestBulkOperationRejectsNonArray(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie := env.login()

	rec := env.postJSON("/api/v1/users/bulk-disable", map[string]string{"user": "ivan.ivanov"}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTextToJSON(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/utils/text-to-json",
		strings.NewReader("ivan@test.com\n\n  petr@test.com anna@test.com\n"))
	req.Header.Set("Content-Type", "text/plain")
	rec := env.do(req, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ivan@test.com", "petr@test.com", "anna@test.com"}, decode[[]string](t, rec))

	rec = env.postForm("/api/v1/utils/text-to-json?users_text=a+b", nil, nil)
	assert.Equal(t, []string{"a", "b"}, decode[[]string](t, rec))

	rec = env.postForm("/api/v1/utils/text-to-json", url.Values{"users_text": {"c\nd"}}, nil)
	assert.Equal(t, []string{"c", "d"}, decode[[]string](t, rec))

	rec = env.postForm("/api/v1/utils/text-to-json", nil, nil)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestValidateExcel(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie := env.login()

	rec := env.upload("/api/v1/users/validate-excel", cookie,
		[]any{"Ivanov Ivan", "ivan@test.com", "", "", "admins,missing-group"},
		[]any{"Petrov Petr", "petr@test.com", "+7 900 123-45-67", "Engineer", "developers"},
	)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decode[bulk.ValidationReport](t, rec)
	assert.False(t, report.Valid)
	assert.Equal(t, 2, report.TotalRows)
	assert.Equal(t, 1, report.WouldCreate)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, 2, report.Conflicts[0].Row)
	assert.Equal(t, "groups do not exist: missing-group", report.Conflicts[0].Error)
	assert.Empty(t, env.dir.Mutations())
}

func TestValidateExcelRequiresFile(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie := env.login()

	rec := env.postForm("/api/v1/users/validate-excel", nil, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkCreateFromExcel(t *testing.T) {
	env := newTestEnv(t, envOptions{links: &fakeLinks{}})
	env.dir.AddTestUser("ivan.ivanov", "ivan@test.com")
	cookie := env.login()

	rec := env.upload("/api/v1/users/bulk-create-from-excel", cookie,
		[]any{"Petrov Petr", "petr@test.com", "", "", "admins"},
		[]any{"Ivanov Ivan", "ivan2@test.com", "", "", ""},
	)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decode[bulk.ImportReport](t, rec)
	require.Len(t, report.Success, 1)
	assert.Equal(t, "petr.petrov", report.Success[0].Username)
	assert.Equal(t, "https://secret.example/#/s/petr.petrov", report.Success[0].SecretLink)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, 3, report.Failed[0].Row)
	assert.Contains(t, report.Failed[0].Error, "username 'ivan.ivanov' already exists")
	assert.True(t, env.dir.HasUser("petr.petrov"))
}

func TestBulkCreatePreflightFailure(t *testing.T) {
	env := newTestEnv(t, envOptions{links: &fakeLinks{checkErr: errors.New("connection refused")}})
	cookie := env.login()

	rec := env.upload("/api/v1/users/bulk-create-from-excel", cookie,
		[]any{"Petrov Petr", "petr@test.com", "", "", "admins"},
	)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	report := decode[bulk.ImportReport](t, rec)
	assert.Empty(t, report.Success)
	assert.Empty(t, report.Failed)
	assert.Contains(t, report.Error, "connection refused")
	assert.Empty(t, env.dir.Mutations())
}

func TestBulkCreateWithoutLinkService(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie := env.login()

	rec := env.upload("/api/v1/users/bulk-create-from-excel", cookie,
		[]any{"Petrov Petr", "petr@test.com", "", "", "admins"},
	)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decode[bulk.ImportReport](t, rec).Error, "no secret link service configured")
	assert.Empty(t, env.dir.Mutations())
}

func TestReports(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.dir.Users["ivan.ivanov"] = &ipa.User{UID: "ivan.ivanov", Mail: []string{"ivan@test.com"}, Groups: []string{"admins", "developers"}}
	env.dir.Users["petr.petrov"] = &ipa.User{UID: "petr.petrov"}
	cookie := env.login()

	rec := env.get("/api/v1/report/full-usersgroups-info", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=users_groups_report.csv", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "username,email,groups\nivan.ivanov,ivan@test.com,admins;developers\npetr.petrov,,\n", rec.Body.String())

	rec = env.get("/api/v1/report/full-info", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		Count int        `json:"count"`
		Users []ipa.User `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 2, info.Count)
	assert.Equal(t, "ivan.ivanov", info.Users[0].UID)

	env.dir.Fail["FindUsers:"] = errors.New("backend unavailable")
	rec = env.get("/api/v1/report/full-info", cookie)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestTemplateDownload(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.get("/api/v1/templates/templates-excel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, excel.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), excel.TemplateFilename)

	rows, total, err := excel.ParseRows(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, rows, 1)
}

func TestRequestRateLimit(t *testing.T) {
	env := newTestEnv(t, envOptions{cfg: Config{RateLimitRPS: 0.001, RateLimitBurst: 1}})

	rec := env.get("/api/v1/templates/templates-excel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = env.get("/api/v1/templates/templates-excel", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Health checks are not limited.
	rec = env.get("/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, envOptions{cfg: Config{CORSAllowedOrigins: []string{"https://portal.example"}}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/session/login", nil)
	req.Header.Set("Origin", "https://portal.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := env.do(req, nil)

	assert.Equal(t, "https://portal.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, envOptions{cfg: Config{ListenAddr: "127.0.0.1:0", ShutdownTimeout: time.Second}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.ListenAndServe(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
