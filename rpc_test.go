package ipa_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ipa "github.com/netresearch/ipa-admin-portal"
)

// fakeIPAServer emulates the FreeIPA login and JSON-RPC endpoints.
type fakeIPAServer struct {
	t        *testing.T
	mu       sync.Mutex
	methods  []string
	params   [][2]any
	handlers map[string]func(args []any, opts map[string]any) (any, map[string]any)
}

func newFakeIPAServer(t *testing.T) (*fakeIPAServer, *httptest.Server) {
	t.Helper()
	f := &fakeIPAServer{t: t, handlers: map[string]func([]any, map[string]any) (any, map[string]any){}}

	mux := http.NewServeMux()
	mux.HandleFunc("/ipa/session/login_password", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Header.Get("Referer") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("user") != "admin" || r.PostForm.Get("password") != "Secret123" {
			w.Header().Set("X-IPA-Rejection-Reason", "invalid-password")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "ipa_session", Value: "MagBearerToken=abc", Path: "/ipa"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ipa/session/json", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("ipa_session"); err != nil || c.Value != "MagBearerToken=abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			Method string `json:"method"`
			Params [2]any `json:"params"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.methods = append(f.methods, req.Method)
		f.params = append(f.params, req.Params)
		h := f.handlers[req.Method]
		f.mu.Unlock()

		args, _ := req.Params[0].([]any)
		opts, _ := req.Params[1].(map[string]any)
		assert.Equal(t, "2.251", opts["version"])

		var result any
		var rpcErr map[string]any
		if h != nil {
			result, rpcErr = h(args, opts)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "error": rpcErr, "id": 0})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeIPAServer) on(method string, h func(args []any, opts map[string]any) (any, map[string]any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func notFoundErr(msg string) map[string]any {
	return map[string]any{"code": 4001, "name": "NotFound", "message": msg}
}

func loginRPC(t *testing.T, srv *httptest.Server) ipa.Directory {
	t.Helper()
	client, err := ipa.New(ipa.Config{Server: srv.URL, Backend: ipa.BackendRPC}, ipa.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	dir, err := client.Login(context.Background(), "admin", "Secret123")
	require.NoError(t, err)
	return dir
}

func TestRPCLogin(t *testing.T) {
	_, srv := newFakeIPAServer(t)
	client, err := ipa.New(ipa.Config{Server: srv.URL}, ipa.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	t.Run("rejects bad password", func(t *testing.T) {
		_, err := client.Login(context.Background(), "admin", "wrong")
		require.Error(t, err)
		assert.ErrorIs(t, err, ipa.ErrInvalidCredentials)
		assert.True(t, ipa.IsAuthenticationError(err))
	})

	t.Run("rejects empty credentials", func(t *testing.T) {
		_, err := client.Login(context.Background(), "", "")
		assert.ErrorIs(t, err, ipa.ErrInvalidCredentials)
	})

	t.Run("accepts valid credentials", func(t *testing.T) {
		dir, err := client.Login(context.Background(), "admin", "Secret123")
		require.NoError(t, err)
		assert.NotNil(t, dir)
	})
}

func TestRPCShowUser(t *testing.T) {
	f, srv := newFakeIPAServer(t)
	f.on("user_show", func(args []any, _ map[string]any) (any, map[string]any) {
		if args[0] != "ivan.ivanov" {
			return nil, notFoundErr(args[0].(string) + ": user not found")
		}
		return map[string]any{
			"result": map[string]any{
				"uid":                   []string{"ivan.ivanov"},
				"givenname":             []string{"Ivan"},
				"sn":                    []string{"Ivanov"},
				"cn":                    []string{"Ivan Ivanov"},
				"mail":                  []string{"ivan@test.com"},
				"memberof_group":        []string{"ipausers", "admins"},
				"nsaccountlock":         true,
				"krbpasswordexpiration": []map[string]string{{"__datetime__": "20250101120000Z"}},
			},
			"value": "ivan.ivanov",
		}, nil
	})
	dir := loginRPC(t, srv)

	user, err := dir.ShowUser(context.Background(), "ivan.ivanov")
	require.NoError(t, err)
	assert.Equal(t, "ivan.ivanov", user.UID)
	assert.Equal(t, "Ivan Ivanov", user.FullName)
	assert.Equal(t, "ivan@test.com", user.PrimaryMail())
	assert.Equal(t, []string{"ipausers", "admins"}, user.Groups)
	assert.True(t, user.Disabled)
	require.NotNil(t, user.PasswordExpiration)
	assert.Equal(t, 2025, user.PasswordExpiration.Year())

	_, err = dir.ShowUser(context.Background(), "ghost.user")
	require.Error(t, err)
	assert.ErrorIs(t, err, ipa.ErrUserNotFound)
	assert.Contains(t, err.Error(), "ghost.user: user not found")

	exists, err := dir.UserExists(context.Background(), "ghost.user")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRPCAddUser(t *testing.T) {
	f, srv := newFakeIPAServer(t)
	var gotOpts map[string]any
	f.on("user_add", func(args []any, opts map[string]any) (any, map[string]any) {
		gotOpts = opts
		return map[string]any{
			"result": map[string]any{
				"uid":            []string{args[0].(string)},
				"randompassword": "Rand0m!pass",
			},
		}, nil
	})
	dir := loginRPC(t, srv)

	created, err := dir.AddUser(context.Background(), ipa.NewUser{
		UID:       "ivan.ivanov",
		GivenName: "Ivan",
		Surname:   "Ivanov",
		Mail:      "ivan@test.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "Rand0m!pass", created.Password)
	assert.Equal(t, "ivan.ivanov", created.UID)
	assert.Equal(t, true, gotOpts["random"])
	assert.Equal(t, "Ivan Ivanov", gotOpts["cn"])
	assert.NotContains(t, gotOpts, "title")
	assert.NotContains(t, gotOpts, "telephonenumber")
}

func TestRPCAddUserDuplicate(t *testing.T) {
	f, srv := newFakeIPAServer(t)
	f.on("user_add", func([]any, map[string]any) (any, map[string]any) {
		return nil, map[string]any{"code": 4002, "name": "DuplicateEntry", "message": `user with name "ivan.ivanov" already exists`}
	})
	dir := loginRPC(t, srv)

	_, err := dir.AddUser(context.Background(), ipa.NewUser{UID: "ivan.ivanov", GivenName: "Ivan", Surname: "Ivanov"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ipa.ErrUserExists)
	assert.True(t, ipa.IsUpstreamError(err))
	assert.Equal(t, 4002, ipa.GetErrorCode(err))
}

func TestRPCAddGroupMember(t *testing.T) {
	f, srv := newFakeIPAServer(t)
	f.on("group_add_member", func(args []any, opts map[string]any) (any, map[string]any) {
		switch args[0] {
		case "admins":
			return map[string]any{"completed": 1, "failed": map[string]any{"member": map[string]any{"user": []any{}}}}, nil
		case "editors":
			return map[string]any{
				"completed": 0,
				"failed": map[string]any{"member": map[string]any{
					"user": [][]string{{"ivan.ivanov", "This entry is already a member"}},
				}},
			}, nil
		default:
			return nil, notFoundErr(args[0].(string) + ": group not found")
		}
	})
	dir := loginRPC(t, srv)

	require.NoError(t, dir.AddGroupMember(context.Background(), "admins", "ivan.ivanov"))

	err := dir.AddGroupMember(context.Background(), "editors", "ivan.ivanov")
	require.Error(t, err)
	assert.ErrorIs(t, err, ipa.ErrAlreadyMember)
	assert.Contains(t, err.Error(), "already a member")

	err = dir.AddGroupMember(context.Background(), "missing", "ivan.ivanov")
	assert.ErrorIs(t, err, ipa.ErrGroupNotFound)
}

func TestRPCGroupExists(t *testing.T) {
	f, srv := newFakeIPAServer(t)
	f.on("group_show", func(args []any, _ map[string]any) (any, map[string]any) {
		if args[0] == "admins" {
			return map[string]any{"result": map[string]any{"cn": []string{"admins"}}}, nil
		}
		return nil, notFoundErr("group not found")
	})
	dir := loginRPC(t, srv)

	ok, err := dir.GroupExists(context.Background(), "admins")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dir.GroupExists(context.Background(), "missing-group")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRPCResetPassword(t *testing.T) {
	f, srv := newFakeIPAServer(t)
	f.on("user_mod", func(args []any, opts map[string]any) (any, map[string]any) {
		assert.Equal(t, true, opts["random"])
		return map[string]any{"result": map[string]any{
			"uid":                   []string{args[0].(string)},
			"randompassword":        "N3w!pass",
			"krbpasswordexpiration": []map[string]string{{"__datetime__": "20240301000000Z"}},
		}}, nil
	})
	dir := loginRPC(t, srv)

	reset, err := dir.ResetPassword(context.Background(), "ivan.ivanov")
	require.NoError(t, err)
	assert.Equal(t, "N3w!pass", reset.Password)
	require.NotNil(t, reset.Expiration)
	assert.Equal(t, "2024-03-01", reset.Expiration.Format("2006-01-02"))
}

func TestRPCFindUsersByMail(t *testing.T) {
	f, srv := newFakeIPAServer(t)
	f.on("user_find", func(_ []any, opts map[string]any) (any, map[string]any) {
		assert.Equal(t, "petr@test.com", opts["mail"])
		return map[string]any{
			"result": []map[string]any{{"uid": []string{"petr.petrov"}, "mail": []string{"petr@test.com"}}},
			"count":  1,
		}, nil
	})
	dir := loginRPC(t, srv)

	users, err := dir.FindUsersByMail(context.Background(), "Petr@Test.com")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "petr.petrov", users[0].UID)
}

func TestRPCClose(t *testing.T) {
	f, srv := newFakeIPAServer(t)
	dir := loginRPC(t, srv)

	require.NoError(t, dir.Close())
	require.NoError(t, dir.Close())

	f.mu.Lock()
	assert.Equal(t, []string{"session_logout"}, f.methods)
	f.mu.Unlock()

	_, err := dir.ShowUser(context.Background(), "ivan.ivanov")
	assert.ErrorIs(t, err, ipa.ErrClosed)
}
