package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"ktransport/internal/directory"
	"ktransport/internal/kvstore"
	"ktransport/internal/model"
)

// Login checks demo accounts first. Demo accounts never reach the network
// and accept only the demo password. Any other email is sent to
// POST /auth/login when a base URL is configured, so a non-demo password
// can succeed there; without a base URL it fails with ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, creds model.Credentials) (model.AuthResponse, error) {
	creds.Email = strings.TrimSpace(creds.Email)

	if c.dir != nil {
		if user, ok := c.dir.FindByEmail(creds.Email); ok {
			if creds.Password != directory.DemoPassword {
				c.log.Info("demo login rejected", slog.String("email", creds.Email))
				return model.AuthResponse{}, ErrInvalidCredentials
			}
			resp := model.AuthResponse{
				Token:        DemoTokenPrefix + user.ID,
				RefreshToken: DemoRefreshPrefix + user.ID,
				User:         user,
			}
			if err := c.persistSession(ctx, resp); err != nil {
				return model.AuthResponse{}, err
			}
			c.log.Info("demo login", slog.String("user_id", user.ID), slog.String("role", string(user.Role)))
			return resp, nil
		}
	}

	if c.baseURL == "" {
		return model.AuthResponse{}, ErrInvalidCredentials
	}

	var resp model.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", creds, &resp); err != nil {
		if IsStatus(err, http.StatusUnauthorized) {
			return model.AuthResponse{}, ErrInvalidCredentials
		}
		c.log.Error("login failed", slog.String("error", err.Error()))
		return model.AuthResponse{}, err
	}
	if resp.Token == "" {
		return model.AuthResponse{}, errors.New("login response missing token")
	}
	if err := c.persistSession(ctx, resp); err != nil {
		return model.AuthResponse{}, err
	}
	return resp, nil
}

// Register has no demo path.
func (c *Client) Register(ctx context.Context, data model.RegisterData) (model.AuthResponse, error) {
	data.Email = strings.TrimSpace(data.Email)

	var resp model.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", "", data, &resp); err != nil {
		c.log.Error("registration failed", slog.String("error", err.Error()))
		return model.AuthResponse{}, err
	}
	if resp.Token == "" {
		return model.AuthResponse{}, errors.New("register response missing token")
	}
	if err := c.persistSession(ctx, resp); err != nil {
		return model.AuthResponse{}, err
	}
	return resp, nil
}

type meResponse struct {
	User model.User `json:"user"`
}

// CurrentUser resolves the session user. The token is taken from the
// argument, then memory, then storage. It never fails: transport trouble
// degrades to the cached profile, a rejected session to nil.
func (c *Client) CurrentUser(ctx context.Context, token string) *model.User {
	token = c.resolveToken(ctx, token)
	if token == "" {
		return nil
	}

	if id, ok := demoUserID(token); ok {
		if c.dir == nil {
			c.log.Warn("demo token without demo directory")
			return nil
		}
		user, found := c.dir.FindByID(id)
		if !found {
			c.log.Warn("demo token for unknown user", slog.String("user_id", id))
			return nil
		}
		c.cacheUser(ctx, user)
		return &user
	}

	user, err := c.fetchMe(ctx, token)
	if err == nil {
		c.cacheUser(ctx, user)
		return &user
	}
	if !IsStatus(err, http.StatusUnauthorized) {
		c.log.Warn("fetch current user failed, using cached profile", slog.String("error", err.Error()))
		return c.cachedUser(ctx)
	}

	refreshed, refreshErr := c.refresh(ctx)
	if refreshed {
		user, err = c.fetchMe(ctx, c.cachedToken())
		if err == nil {
			c.cacheUser(ctx, user)
			return &user
		}
		if !IsStatus(err, http.StatusUnauthorized) {
			c.log.Warn("fetch current user after refresh failed", slog.String("error", err.Error()))
			return c.cachedUser(ctx)
		}
	} else if !isRejection(refreshErr) {
		c.log.Warn("token refresh unavailable, using cached profile", slog.String("error", refreshErr.Error()))
		return c.cachedUser(ctx)
	}

	c.log.Info("session rejected by backend, clearing")
	if err := c.clearSession(ctx); err != nil {
		c.log.Error("clear rejected session", slog.String("error", err.Error()))
	}
	return nil
}

// RefreshToken exchanges the stored refresh token. It reports false on any
// failure and makes no network call when nothing is stored.
func (c *Client) RefreshToken(ctx context.Context) bool {
	ok, err := c.refresh(ctx)
	if err != nil && !errors.Is(err, errNoRefreshToken) {
		c.log.Warn("token refresh failed", slog.String("error", err.Error()))
	}
	return ok
}

// Logout tells the backend on a best-effort basis, then always clears the
// local session. Only a failure to clear local storage is returned.
func (c *Client) Logout(ctx context.Context) error {
	token := c.resolveToken(ctx, "")
	if token != "" && !IsDemoToken(token) && c.baseURL != "" {
		if err := c.do(ctx, http.MethodPost, "/auth/logout", token, nil, nil); err != nil {
			c.log.Warn("logout notification failed", slog.String("error", err.Error()))
		}
	}
	if err := c.clearSession(ctx); err != nil {
		return err
	}
	c.log.Info("logged out")
	return nil
}

// Token returns the cached access token, falling back to storage.
func (c *Client) Token(ctx context.Context) (string, error) {
	if token := c.cachedToken(); token != "" {
		return token, nil
	}
	token, _, err := c.store.Get(ctx, kvstore.KeyAuthToken)
	if err != nil {
		return "", fmt.Errorf("read auth token: %w", err)
	}
	return token, nil
}

func (c *Client) refresh(ctx context.Context) (bool, error) {
	stored, ok, err := c.store.Get(ctx, kvstore.KeyRefreshToken)
	if err != nil {
		return false, fmt.Errorf("read refresh token: %w", err)
	}
	if !ok || stored == "" {
		return false, errNoRefreshToken
	}

	var resp model.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": stored}, &resp); err != nil {
		return false, err
	}
	if resp.Token == "" {
		return false, errors.New("refresh response missing token")
	}
	if resp.RefreshToken == "" {
		resp.RefreshToken = stored
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.store.Set(ctx, kvstore.KeyAuthToken, resp.Token); err != nil {
		return false, fmt.Errorf("store auth token: %w", err)
	}
	if err := c.store.Set(ctx, kvstore.KeyRefreshToken, resp.RefreshToken); err != nil {
		return false, fmt.Errorf("store refresh token: %w", err)
	}
	c.setToken(resp.Token)
	if resp.User.ID != "" {
		c.cacheUserLocked(ctx, resp.User)
	}
	return true, nil
}

func (c *Client) fetchMe(ctx context.Context, token string) (model.User, error) {
	var resp meResponse
	if err := c.do(ctx, http.MethodGet, "/auth/me", token, nil, &resp); err != nil {
		return model.User{}, err
	}
	if resp.User.ID == "" {
		return model.User{}, errors.New("me response missing user")
	}
	return resp.User, nil
}

// isRejection reports whether a refresh failure means the backend will not
// accept this session again, as opposed to it being unreachable.
func isRejection(err error) bool {
	if errors.Is(err, errNoRefreshToken) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500
}

func (c *Client) persistSession(ctx context.Context, resp model.AuthResponse) error {
	userData, err := json.Marshal(resp.User)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	pairs := [][2]string{
		{kvstore.KeyAuthToken, resp.Token},
		{kvstore.KeyRefreshToken, resp.RefreshToken},
		{kvstore.KeyUserData, string(userData)},
		{kvstore.KeyUserRole, string(resp.User.Role)},
	}
	for _, pair := range pairs {
		if err := c.store.Set(ctx, pair[0], pair[1]); err != nil {
			_ = c.store.Delete(ctx, kvstore.SessionKeys...)
			c.log.Error("persist session failed", slog.String("key", pair[0]), slog.String("error", err.Error()))
			return fmt.Errorf("persist session: %w", err)
		}
	}
	c.setToken(resp.Token)
	return nil
}

func (c *Client) clearSession(ctx context.Context) error {
	c.setToken("")
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.store.Delete(ctx, kvstore.SessionKeys...); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (c *Client) cacheUser(ctx context.Context, user model.User) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.cacheUserLocked(ctx, user)
}

func (c *Client) cacheUserLocked(ctx context.Context, user model.User) {
	data, err := json.Marshal(user)
	if err != nil {
		c.log.Error("encode user", slog.String("error", err.Error()))
		return
	}
	if err := c.store.Set(ctx, kvstore.KeyUserData, string(data)); err != nil {
		c.log.Warn("cache user failed", slog.String("error", err.Error()))
		return
	}
	if err := c.store.Set(ctx, kvstore.KeyUserRole, string(user.Role)); err != nil {
		c.log.Warn("cache user role failed", slog.String("error", err.Error()))
	}
}

func (c *Client) cachedUser(ctx context.Context) *model.User {
	raw, ok, err := c.store.Get(ctx, kvstore.KeyUserData)
	if err != nil {
		c.log.Warn("read cached user failed", slog.String("error", err.Error()))
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	var user model.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		c.log.Warn("cached user is corrupt", slog.String("error", err.Error()))
		return nil
	}
	return &user
}

func (c *Client) resolveToken(ctx context.Context, explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	if token := c.cachedToken(); token != "" {
		return token
	}
	token, _, err := c.store.Get(ctx, kvstore.KeyAuthToken)
	if err != nil {
		c.log.Warn("read auth token failed", slog.String("error", err.Error()))
		return ""
	}
	return token
}

func (c *Client) cachedToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}
