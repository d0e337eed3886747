package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ktransport/internal/model"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrEmailTaken = errors.New("email already registered")
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const userColumns = `id, email, phone, password_hash, first_name, last_name, role, is_verified, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, account model.Account) error {
	_, err := s.pool.Exec(ctx, `
    INSERT INTO users (`+userColumns+`)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
  `, account.ID, normalizeEmail(account.Email), account.Phone, account.PasswordHash, account.FirstName, account.LastName,
		string(account.Role), account.IsVerified, account.CreatedAt, account.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrEmailTaken
	}
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email))
	return scanAccount(row)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return scanAccount(row)
}

// MarkVerified flags the user as verified. A non-empty phone replaces the
// stored number, since that is the number the code was sent to.
func (s *Store) MarkVerified(ctx context.Context, userID, phone string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
    UPDATE users
    SET is_verified = true, phone = COALESCE(NULLIF($2, ''), phone), updated_at = $1
    WHERE id = $3
  `, at, phone, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateRefreshSession(ctx context.Context, session model.RefreshSession) error {
	_, err := s.pool.Exec(ctx, `
    INSERT INTO refresh_token_sessions (id, user_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
  `, session.ID, session.UserID, session.TokenHash, session.CreatedAt, session.ExpiresAt, session.RevokedAt, session.UserAgent, session.IPAddress)
	return err
}

func (s *Store) GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error) {
	var session model.RefreshSession
	row := s.pool.QueryRow(ctx, `
    SELECT id, user_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address
    FROM refresh_token_sessions
    WHERE token_hash = $1
  `, tokenHash)
	err := row.Scan(&session.ID, &session.UserID, &session.TokenHash, &session.CreatedAt, &session.ExpiresAt, &session.RevokedAt, &session.UserAgent, &session.IPAddress)
	if errors.Is(err, pgx.ErrNoRows) {
		return session, ErrNotFound
	}
	return session, err
}

func (s *Store) RevokeRefreshSession(ctx context.Context, sessionID string, revokedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE refresh_token_sessions SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`, revokedAt, sessionID)
	return err
}

func (s *Store) RevokeRefreshSessionsByUser(ctx context.Context, userID string, revokedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE refresh_token_sessions SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`, revokedAt, userID)
	return err
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var account model.Account
	var role string
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Phone,
		&account.PasswordHash,
		&account.FirstName,
		&account.LastName,
		&role,
		&account.IsVerified,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return account, ErrNotFound
	}
	account.Role = model.Role(role)
	return account, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
