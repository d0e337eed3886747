package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"ktransport/internal/directory"
	"ktransport/internal/kvstore"
	"ktransport/internal/model"
)

var quietLog = slog.New(slog.NewTextHandler(io.Discard, nil))

type backend struct {
	calls atomic.Int32
	mux   *http.ServeMux
}

func newBackend() *backend {
	return &backend{mux: http.NewServeMux()}
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.calls.Add(1)
	b.mux.ServeHTTP(w, r)
}

func writeTestJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func newDemoClient(baseURL string) (*Client, *kvstore.Memory) {
	store := kvstore.NewMemory()
	client := New(baseURL, store, WithDirectory(directory.NewDemo()), WithLogger(quietLog))
	return client, store
}

func remoteUser() model.User {
	return model.User{ID: "u-42", Email: "rider@example.com", FirstName: "Rita", LastName: "Rider", Role: model.RoleParent}
}

func TestLoginDemoCommuter(t *testing.T) {
	client, store := newDemoClient("")
	resp, err := client.Login(context.Background(), model.Credentials{Email: "commuter@ktransport.com", Password: "demo123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Token != "demo-token-1" || resp.RefreshToken != "demo-refresh-1" {
		t.Fatalf("unexpected tokens: %+v", resp)
	}
	if resp.User.Role != model.RoleCommuter {
		t.Fatalf("expected commuter role, got %s", resp.User.Role)
	}

	snapshot := store.Snapshot()
	if snapshot[kvstore.KeyAuthToken] != "demo-token-1" || snapshot[kvstore.KeyRefreshToken] != "demo-refresh-1" {
		t.Fatalf("tokens not persisted: %v", snapshot)
	}
	var cached model.User
	if err := json.Unmarshal([]byte(snapshot[kvstore.KeyUserData]), &cached); err != nil || cached.ID != "1" {
		t.Fatalf("user not persisted: %v %v", snapshot[kvstore.KeyUserData], err)
	}
	if token, _ := client.Token(context.Background()); token != "demo-token-1" {
		t.Fatalf("expected token cached in memory, got %q", token)
	}
}

func TestLoginDemoWrongPasswordWritesNothing(t *testing.T) {
	b := newBackend()
	server := httptest.NewServer(b)
	defer server.Close()

	client, store := newDemoClient(server.URL)
	_, err := client.Login(context.Background(), model.Credentials{Email: "driver@ktransport.com", Password: "hunter2"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if len(store.Snapshot()) != 0 {
		t.Fatalf("expected no storage writes, got %v", store.Snapshot())
	}
	if b.calls.Load() != 0 {
		t.Fatalf("demo accounts must not reach the backend")
	}
}

func TestLoginUnknownEmailInDemoMode(t *testing.T) {
	client, store := newDemoClient("")
	_, err := client.Login(context.Background(), model.Credentials{Email: "nouser@x.com", Password: "demo123"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if len(store.Snapshot()) != 0 {
		t.Fatalf("expected no storage writes, got %v", store.Snapshot())
	}
}

func TestLoginStorageFailureLeavesNoSession(t *testing.T) {
	client, store := newDemoClient("")
	store.FailWrites(true)
	if _, err := client.Login(context.Background(), model.Credentials{Email: "admin@ktransport.com", Password: "demo123"}); err == nil {
		t.Fatalf("expected storage failure to surface")
	}
	store.FailWrites(false)
	if len(store.Snapshot()) != 0 {
		t.Fatalf("expected no session keys, got %v", store.Snapshot())
	}
	if token, _ := client.Token(context.Background()); token != "" {
		t.Fatalf("expected no cached token, got %q", token)
	}
}

func TestLoginDelegatesToBackend(t *testing.T) {
	b := newBackend()
	b.mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds model.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Password != "correct-horse" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials", "message": "Invalid email or password"})
			return
		}
		writeTestJSON(w, http.StatusOK, model.AuthResponse{Token: "jwt-1", RefreshToken: "ref-1", User: remoteUser()})
	})
	server := httptest.NewServer(b)
	defer server.Close()

	client, store := newDemoClient(server.URL)
	if _, err := client.Login(context.Background(), model.Credentials{Email: "rider@example.com", Password: "nope"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for 401, got %v", err)
	}
	if len(store.Snapshot()) != 0 {
		t.Fatalf("failed login must not write storage")
	}

	resp, err := client.Login(context.Background(), model.Credentials{Email: "rider@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Token != "jwt-1" || store.Snapshot()[kvstore.KeyRefreshToken] != "ref-1" {
		t.Fatalf("backend session not persisted: %+v %v", resp, store.Snapshot())
	}
}

func TestRegisterPersistsSession(t *testing.T) {
	b := newBackend()
	b.mux.HandleFunc("/auth/register", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		writeTestJSON(w, http.StatusCreated, model.AuthResponse{Token: "jwt-new", RefreshToken: "ref-new", User: remoteUser()})
	})
	server := httptest.NewServer(b)
	defer server.Close()

	client, store := newDemoClient(server.URL)
	resp, err := client.Register(context.Background(), model.RegisterData{Email: "rider@example.com", Password: "password1", FirstName: "Rita"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.User.ID != "u-42" || store.Snapshot()[kvstore.KeyAuthToken] != "jwt-new" {
		t.Fatalf("register session not persisted: %v", store.Snapshot())
	}
	if store.Snapshot()[kvstore.KeyUserRole] != "parent" {
		t.Fatalf("expected role cached, got %v", store.Snapshot())
	}
}

func TestRegisterSurfacesServerMessage(t *testing.T) {
	b := newBackend()
	b.mux.HandleFunc("/auth/register", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusConflict, map[string]string{"error": "email_taken", "message": "An account with this email already exists"})
	})
	server := httptest.NewServer(b)
	defer server.Close()

	client, store := newDemoClient(server.URL)
	_, err := client.Register(context.Background(), model.RegisterData{Email: "taken@example.com", Password: "password1"})
	if err == nil || err.Error() != "An account with this email already exists" {
		t.Fatalf("expected server message, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || apiErr.Code != "email_taken" {
		t.Fatalf("expected APIError 409, got %#v", err)
	}
	if len(store.Snapshot()) != 0 {
		t.Fatalf("failed register must not write storage")
	}
}

func TestRegisterWithoutBackend(t *testing.T) {
	client, _ := newDemoClient("")
	if _, err := client.Register(context.Background(), model.RegisterData{Email: "a@b.c"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestCurrentUserDemoTokenSkipsNetwork(t *testing.T) {
	b := newBackend()
	server := httptest.NewServer(b)
	defer server.Close()

	client, store := newDemoClient(server.URL)
	user := client.CurrentUser(context.Background(), "demo-token-2")
	if user == nil || user.ID != "2" || user.Role != model.RoleDriver {
		t.Fatalf("expected driver fixture, got %+v", user)
	}
	if b.calls.Load() != 0 {
		t.Fatalf("expected no network call, got %d", b.calls.Load())
	}
	if store.Snapshot()[kvstore.KeyUserData] == "" {
		t.Fatalf("expected userData refreshed")
	}
}

func TestCurrentUserWithoutAnyToken(t *testing.T) {
	b := newBackend()
	server := httptest.NewServer(b)
	defer server.Close()

	client, _ := newDemoClient(server.URL)
	if user := client.CurrentUser(context.Background(), ""); user != nil {
		t.Fatalf("expected nil user, got %+v", user)
	}
	if b.calls.Load() != 0 {
		t.Fatalf("expected no network call")
	}
}

func TestCurrentUserUsesStoredToken(t *testing.T) {
	b := newBackend()
	b.mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer stored-jwt" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"user": remoteUser()})
	})
	server := httptest.NewServer(b)
	defer server.Close()

	client, store := newDemoClient(server.URL)
	_ = store.Set(context.Background(), kvstore.KeyAuthToken, "stored-jwt")
	user := client.CurrentUser(context.Background(), "")
	if user == nil || user.ID != "u-42" {
		t.Fatalf("expected remote user, got %+v", user)
	}
}

func TestCurrentUserRefreshesOnceOn401(t *testing.T) {
	var meCalls, refreshCalls atomic.Int32
	b := newBackend()
	b.mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		meCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh-jwt" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"user": remoteUser()})
	})
	b.mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["refreshToken"] != "ref-old" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_refresh_token"})
			return
		}
		writeTestJSON(w, http.StatusOK, model.AuthResponse{Token: "fresh-jwt", RefreshToken: "ref-new"})
	})
	server := httptest.NewServer(b)
	defer server.Close()

	client, store := newDemoClient(server.URL)
	ctx := context.Background()
	_ = store.Set(ctx, kvstore.KeyAuthToken, "expired-jwt")
	_ = store.Set(ctx, kvstore.KeyRefreshToken, "ref-old")

	user := client.CurrentUser(ctx, "")
	if user == nil || user.ID != "u-42" {
		t.Fatalf("expected user after refresh, got %+v", user)
	}
	if meCalls.Load() != 2 || refreshCalls.Load() != 1 {
		t.Fatalf("expected 2 me calls and 1 refresh, got %d and %d", meCalls.Load(), refreshCalls.Load())
	}
	snapshot := store.Snapshot()
	if snapshot[kvstore.KeyAuthToken] != "fresh-jwt" || snapshot[kvstore.KeyRefreshToken] != "ref-new" {
		t.Fatalf("expected rotated tokens, got %v", snapshot)
	}
}

func TestCurrentUserClearsRejectedSession(t *testing.T) {
	var refreshCalls atomic.Int32
	b := newBackend()
	b.mux.HandleFunc("/auth/me", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
	})
	b.mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, _ *http.Request) {
		refreshCalls.Add(1)
		writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "refresh_token_expired"})
	})
	server := httptest.NewServer(b)
	defer server.Close()

	client, store := newDemoClient(server.URL)
	ctx := context.Background()
	_ = store.Set(ctx, kvstore.KeyAuthToken, "revoked-jwt")
	_ = store.Set(ctx, kvstore.KeyRefreshToken, "revoked-ref")
	_ = store.Set(ctx, kvstore.KeyUserData, `{"id":"u-42"}`)

	if user := client.CurrentUser(ctx, ""); user != nil {
		t.Fatalf("expected nil for revoked session, got %+v", user)
	}
	if refreshCalls.Load() != 1 {
		t.Fatalf("expected exactly one refresh attempt, got %d", refreshCalls.Load())
	}
	if len(store.Snapshot()) != 0 {
		t.Fatalf("expected rejected session cleared, got %v", store.Snapshot())
	}
}

func TestCurrentUserFallsBackToCacheOnServerError(t *testing.T) {
	b := newBackend()
	b.mux.HandleFunc("/auth/me", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream"})
	})
	server := httptest.NewServer(b)
	defer server.Close()

	client, store := newDemoClient(server.URL)
	ctx := context.Background()
	cached, _ := json.Marshal(remoteUser())
	_ = store.Set(ctx, kvstore.KeyAuthToken, "jwt")
	_ = store.Set(ctx, kvstore.KeyUserData, string(cached))

	user := client.CurrentUser(ctx, "")
	if user == nil || user.ID != "u-42" {
		t.Fatalf("expected cached user, got %+v", user)
	}
	if store.Snapshot()[kvstore.KeyAuthToken] != "jwt" {
		t.Fatalf("server errors must not clear the session")
	}
}

func TestCurrentUserFallsBackToCacheWhenUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, store := newDemoClient(url)
	ctx := context.Background()
	_ = store.Set(ctx, kvstore.KeyAuthToken, "jwt")

	if user := client.CurrentUser(ctx, ""); user != nil {
		t.Fatalf("expected nil without cached profile, got %+v", user)
	}

	cached, _ := json.Marshal(remoteUser())
	_ = store.Set(ctx, kvstore.KeyUserData, string(cached))
	if user := client.CurrentUser(ctx, ""); user == nil || user.Email != "rider@example.com" {
		t.Fatalf("expected cached user, got %+v", user)
	}
}

func TestCurrentUserStorageFailureIsAnonymous(t *testing.T) {
	client, store := newDemoClient("")
	store.FailReads(true)
	if user := client.CurrentUser(context.Background(), ""); user != nil {
		t.Fatalf("expected nil on storage failure, got %+v", user)
	}
}

func TestRefreshTokenWithoutStoredToken(t *testing.T) {
	b := newBackend()
	server := httptest.NewServer(b)
	defer server.Close()

	client, _ := newDemoClient(server.URL)
	if client.RefreshToken(context.Background()) {
		t.Fatalf("expected false without refresh token")
	}
	if b.calls.Load() != 0 {
		t.Fatalf("expected no network call")
	}
}

func TestRefreshTokenFailureReturnsFalse(t *testing.T) {
	b := newBackend()
	b.mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
	})
	server := httptest.NewServer(b)
	defer server.Close()

	client, store := newDemoClient(server.URL)
	ctx := context.Background()
	_ = store.Set(ctx, kvstore.KeyAuthToken, "jwt")
	_ = store.Set(ctx, kvstore.KeyRefreshToken, "ref")
	if client.RefreshToken(ctx) {
		t.Fatalf("expected false on server error")
	}
	if store.Snapshot()[kvstore.KeyAuthToken] != "jwt" {
		t.Fatalf("failed refresh must keep tokens")
	}
}

func TestLogoutClearsEvenWhenNetworkFails(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, store := newDemoClient(url)
	ctx := context.Background()
	_ = store.Set(ctx, kvstore.KeyAuthToken, "jwt")
	_ = store.Set(ctx, kvstore.KeyRefreshToken, "ref")
	_ = store.Set(ctx, kvstore.KeyUserData, `{"id":"u-42"}`)

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(store.Snapshot()) != 0 {
		t.Fatalf("expected all keys cleared, got %v", store.Snapshot())
	}
}

func TestLogoutDemoSession(t *testing.T) {
	b := newBackend()
	server := httptest.NewServer(b)
	defer server.Close()

	client, store := newDemoClient(server.URL)
	ctx := context.Background()
	if _, err := client.Login(ctx, model.Credentials{Email: "commuter@ktransport.com", Password: "demo123"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := client.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(store.Snapshot()) != 0 {
		t.Fatalf("expected keys cleared, got %v", store.Snapshot())
	}
	if token, _ := client.Token(ctx); token != "" {
		t.Fatalf("expected in-memory token cleared, got %q", token)
	}
	if b.calls.Load() != 0 {
		t.Fatalf("demo logout must not call the backend")
	}
}

func TestLogoutNotifiesBackend(t *testing.T) {
	var seen atomic.Value
	b := newBackend()
	b.mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
		writeTestJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	server := httptest.NewServer(b)
	defer server.Close()

	client, store := newDemoClient(server.URL)
	ctx := context.Background()
	_ = store.Set(ctx, kvstore.KeyAuthToken, "jwt-7")
	if err := client.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if seen.Load() != "Bearer jwt-7" {
		t.Fatalf("expected bearer token on logout, got %v", seen.Load())
	}
}

func TestVerificationSurfacesServerMessage(t *testing.T) {
	b := newBackend()
	b.mux.HandleFunc("/auth/verify-phone", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_code", "message": "Verification code is incorrect"})
	})
	b.mux.HandleFunc("/auth/send-phone-verification", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer jwt" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		writeTestJSON(w, http.StatusOK, map[string]string{"status": "sent"})
	})
	server := httptest.NewServer(b)
	defer server.Close()

	client, store := newDemoClient(server.URL)
	ctx := context.Background()
	_ = store.Set(ctx, kvstore.KeyAuthToken, "jwt")

	if err := client.SendPhoneVerification(ctx, "+27820000000"); err != nil {
		t.Fatalf("send verification: %v", err)
	}
	err := client.VerifyPhone(ctx, "+27820000000", "000000")
	if err == nil || err.Error() != "Verification code is incorrect" {
		t.Fatalf("expected server message, got %v", err)
	}
}

func TestAPIErrorFallbackMessage(t *testing.T) {
	err := &APIError{Status: http.StatusServiceUnavailable}
	if err.Error() != "request failed with status 503" {
		t.Fatalf("unexpected fallback message %q", err.Error())
	}
	if (&APIError{Status: 400, Code: "invalid_request"}).Error() != "invalid_request" {
		t.Fatalf("expected code as message")
	}
}

func TestIsDemoToken(t *testing.T) {
	if !IsDemoToken("demo-token-3") {
		t.Fatalf("expected demo token")
	}
	if IsDemoToken("demo-token-") || IsDemoToken("eyJhbGciOi") {
		t.Fatalf("expected non-demo tokens")
	}
}
