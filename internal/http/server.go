package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"ktransport/internal/auth"
	"ktransport/internal/config"
	"ktransport/internal/crypto"
	"ktransport/internal/model"
	"ktransport/internal/repository"
	"ktransport/internal/verification"
)

const minPasswordLength = 8

// Store is the persistence the auth API needs. *repository.Store satisfies it.
type Store interface {
	CreateUser(ctx context.Context, account model.Account) error
	GetUserByEmail(ctx context.Context, email string) (model.Account, error)
	GetUserByID(ctx context.Context, userID string) (model.Account, error)
	MarkVerified(ctx context.Context, userID, phone string, at time.Time) error
	CreateRefreshSession(ctx context.Context, session model.RefreshSession) error
	GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error)
	RevokeRefreshSession(ctx context.Context, sessionID string, revokedAt time.Time) error
	RevokeRefreshSessionsByUser(ctx context.Context, userID string, revokedAt time.Time) error
}

type Server struct {
	cfg     config.Server
	store   Store
	codes   *verification.Service
	log     *slog.Logger
	metrics *Metrics
	limiter *LoginLimiter
}

func NewServer(cfg config.Server, store Store, codes *verification.Service, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		codes:   codes,
		log:     log,
		metrics: NewMetrics(),
		limiter: NewLoginLimiter(cfg.LoginRateLimit, 5*time.Minute, log),
	}
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.metrics.Handler())

	r.With(s.limiter.Middleware).Post("/auth/login", s.handleLogin)
	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/refresh", s.handleRefresh)
	r.With(s.authMiddleware).Post("/auth/logout", s.handleLogout)
	r.With(s.authMiddleware).Get("/auth/me", s.handleGetMe)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/auth/send-phone-verification", s.handleSendVerification(verification.ChannelPhone))
		r.Post("/auth/verify-phone", s.handleVerify(verification.ChannelPhone))
		r.Post("/auth/send-email-verification", s.handleSendVerification(verification.ChannelEmail))
		r.Post("/auth/verify-email", s.handleVerify(verification.ChannelEmail))
	})

	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
	Role      string `json:"role,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type userResponse struct {
	User model.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body is not valid JSON")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials", "Email and password are required")
		return
	}

	account, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.RecordLogin("rejected")
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
			return
		}
		s.log.Error("login lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "server_error", "Something went wrong, please try again")
		return
	}

	if err := crypto.CheckPassword(account.PasswordHash, req.Password); err != nil {
		s.metrics.RecordLogin("rejected")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}

	resp, err := s.issueTokens(r.Context(), account.User, r.UserAgent(), clientIP(r))
	if err != nil {
		s.log.Error("issue tokens failed", slog.String("user_id", account.ID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "token_error", "Could not start a session")
		return
	}
	s.metrics.RecordLogin("success")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body is not valid JSON")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "invalid_email", "A valid email address is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "weak_password", "Password must be at least 8 characters")
		return
	}
	if req.FirstName == "" || req.LastName == "" {
		writeError(w, http.StatusBadRequest, "missing_name", "First and last name are required")
		return
	}
	role, ok := registrationRole(req.Role)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_role", "This role cannot be chosen at registration")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Something went wrong, please try again")
		return
	}
	now := time.Now().UTC()
	account := model.Account{
		User: model.User{
			ID:        uuid.NewString(),
			Email:     req.Email,
			Phone:     strings.TrimSpace(req.Phone),
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Role:      role,
			CreatedAt: now,
			UpdatedAt: now,
		},
		PasswordHash: hash,
	}
	if err := s.store.CreateUser(r.Context(), account); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email_taken", "An account with this email already exists")
			return
		}
		s.log.Error("create user failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "server_error", "Something went wrong, please try again")
		return
	}
	s.log.Info("user registered", slog.String("user_id", account.ID), slog.String("role", string(role)))

	resp, err := s.issueTokens(r.Context(), account.User, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error", "Could not start a session")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body is not valid JSON")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token", "Refresh token is required")
		return
	}

	session, err := s.store.GetRefreshSession(r.Context(), crypto.HashToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "Session is no longer valid, please sign in again")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", "Something went wrong, please try again")
		return
	}

	now := time.Now().UTC()
	if !session.Active(now) {
		writeError(w, http.StatusUnauthorized, "refresh_token_expired", "Session has expired, please sign in again")
		return
	}

	account, err := s.store.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "user_not_found", "Account no longer exists")
		return
	}

	if err := s.store.RevokeRefreshSession(r.Context(), session.ID, now); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Something went wrong, please try again")
		return
	}

	resp, err := s.issueTokens(r.Context(), account.User, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error", "Could not start a session")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token", "Authentication required")
		return
	}

	if err := s.store.RevokeRefreshSessionsByUser(r.Context(), claims.UserID, time.Now().UTC()); err != nil {
		s.log.Warn("revoke sessions failed", slog.String("user_id", claims.UserID), slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	account, ok := s.currentAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: account.User})
}

type sendVerificationRequest struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type verifyRequest struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	Code  string `json:"code"`
}

func (s *Server) handleSendVerification(channel verification.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.codes == nil {
			writeError(w, http.StatusServiceUnavailable, "verification_unavailable", "Verification is not available right now")
			return
		}
		account, ok := s.currentAccount(w, r)
		if !ok {
			return
		}
		var req sendVerificationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Request body is not valid JSON")
			return
		}
		target := verificationTarget(channel, req.Phone, req.Email, account)
		if target == "" {
			writeError(w, http.StatusBadRequest, "missing_target", "A phone number or email address is required")
			return
		}
		if channel == verification.ChannelEmail && !strings.EqualFold(target, account.Email) {
			writeError(w, http.StatusBadRequest, "email_mismatch", "Email does not match your account")
			return
		}

		if err := s.codes.Issue(r.Context(), channel, account.ID, target); err != nil {
			s.log.Error("issue verification code failed", slog.String("channel", string(channel)), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "send_failed", "Could not send the verification code")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
	}
}

func (s *Server) handleVerify(channel verification.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.codes == nil {
			writeError(w, http.StatusServiceUnavailable, "verification_unavailable", "Verification is not available right now")
			return
		}
		account, ok := s.currentAccount(w, r)
		if !ok {
			return
		}
		var req verifyRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Request body is not valid JSON")
			return
		}
		if strings.TrimSpace(req.Code) == "" {
			writeError(w, http.StatusBadRequest, "missing_code", "Verification code is required")
			return
		}
		target := verificationTarget(channel, req.Phone, req.Email, account)

		err := s.codes.Verify(r.Context(), channel, account.ID, target, req.Code)
		switch {
		case errors.Is(err, verification.ErrTooManyAttempts):
			writeError(w, http.StatusTooManyRequests, "too_many_attempts", "Too many incorrect codes, request a new one")
			return
		case errors.Is(err, verification.ErrCodeNotFound):
			writeError(w, http.StatusBadRequest, "code_expired", "Verification code has expired, request a new one")
			return
		case errors.Is(err, verification.ErrCodeMismatch):
			writeError(w, http.StatusBadRequest, "invalid_code", "Invalid verification code")
			return
		case err != nil:
			s.log.Error("verify code failed", slog.String("channel", string(channel)), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "server_error", "Something went wrong, please try again")
			return
		}

		var phone string
		if channel == verification.ChannelPhone {
			phone = verification.NormalizeTarget(channel, target)
		}
		now := time.Now().UTC()
		if err := s.store.MarkVerified(r.Context(), account.ID, phone, now); err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", "Something went wrong, please try again")
			return
		}
		if phone != "" {
			account.Phone = phone
		}
		account.IsVerified = true
		account.UpdatedAt = now
		writeJSON(w, http.StatusOK, userResponse{User: account.User})
	}
}

func verificationTarget(channel verification.Channel, phone, email string, account model.Account) string {
	if channel == verification.ChannelEmail {
		if email = strings.TrimSpace(email); email != "" {
			return email
		}
		return account.Email
	}
	if phone = strings.TrimSpace(phone); phone != "" {
		return phone
	}
	return account.Phone
}

func (s *Server) currentAccount(w http.ResponseWriter, r *http.Request) (model.Account, bool) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token", "Authentication required")
		return model.Account{}, false
	}
	account, err := s.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "user_not_found", "Account no longer exists")
			return model.Account{}, false
		}
		writeError(w, http.StatusInternalServerError, "server_error", "Something went wrong, please try again")
		return model.Account{}, false
	}
	return account, true
}

// registrationRole defaults to commuter. Admin and staff accounts are
// provisioned, never self-registered.
func registrationRole(raw string) (model.Role, bool) {
	if strings.TrimSpace(raw) == "" {
		return model.RoleCommuter, true
	}
	role := model.ParseRole(raw)
	switch role {
	case model.RoleCommuter, model.RoleDriver, model.RoleParent:
		return role, true
	default:
		return "", false
	}
}

func (s *Server) issueTokens(ctx context.Context, user model.User, userAgent, ip string) (model.AuthResponse, error) {
	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID: user.ID,
		Role:   user.Role,
	})
	if err != nil {
		return model.AuthResponse{}, err
	}

	refreshToken, err := crypto.NewRefreshToken()
	if err != nil {
		return model.AuthResponse{}, err
	}

	now := time.Now().UTC()
	session := model.RefreshSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: crypto.HashToken(refreshToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}
	if userAgent != "" {
		session.UserAgent = &userAgent
	}
	if ip != "" {
		session.IPAddress = &ip
	}

	if err := s.store.CreateRefreshSession(ctx, session); err != nil {
		return model.AuthResponse{}, err
	}

	return model.AuthResponse{Token: accessToken, RefreshToken: refreshToken, User: user}, nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token", "Authentication required")
			return
		}

		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "Session has expired, please sign in again")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type claimsKey struct{}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// clientIP reads the peer address only. Forwarding headers are honoured
// through middleware.RealIP when TRUST_PROXY is set.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
