package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/marketauth/internal/dbx"
	"github.com/MrEthical07/marketauth/session"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const uniqueViolation = "23505"

// Postgres implements the engine's store interfaces on top of database/sql.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres opens a pgx-backed handle for dsn and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// Ping reports whether the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

const userColumns = `id, email, password_hash, first_name, last_name, role,
       email_verified, verification_code_hash, verification_expires_at,
       two_factor_status, two_factor_secret, two_factor_last_counter,
       created_at, updated_at`

func (p *Postgres) CreateUser(ctx context.Context, u *User) error {
	query :=
		`INSERT INTO users (id, email, password_hash, first_name, last_name, role, email_verified, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := p.db.ExecContext(ctx, query,
		u.ID, strings.ToLower(u.Email), u.PasswordHash, u.FirstName, u.LastName, u.Role, u.EmailVerified, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// wellFormedID reports whether id can be compared against a UUID column.
// Anything else would make Postgres fail the whole statement.
func wellFormedID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (p *Postgres) UserByID(ctx context.Context, userID string) (*User, error) {
	if !wellFormedID(userID) {
		return nil, ErrNotFound
	}
	return p.scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

func (p *Postgres) UserByEmail(ctx context.Context, email string) (*User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, strings.ToLower(email)))
}

func (p *Postgres) scanUser(row *sql.Row) (*User, error) {
	var (
		u          User
		codeHash   sql.NullString
		codeExpiry sql.NullTime
		secret     sql.NullString
		status     int16
	)

	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role,
		&u.EmailVerified, &codeHash, &codeExpiry,
		&status, &secret, &u.TwoFactorLastCounter,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	u.VerificationCodeHash = codeHash.String
	if codeExpiry.Valid {
		u.VerificationExpiresAt = codeExpiry.Time
	}
	u.TwoFactorStatus = TwoFactorStatus(status)
	u.TwoFactorSecret = secret.String
	return &u, nil
}

func (p *Postgres) UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error {
	return execOne(ctx, p.db,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, hash, at)
}

func (p *Postgres) SetEmailVerification(ctx context.Context, userID, codeHash string, expiresAt time.Time) error {
	return execOne(ctx, p.db,
		`UPDATE users SET verification_code_hash = $2, verification_expires_at = $3 WHERE id = $1`,
		userID, codeHash, expiresAt)
}

func (p *Postgres) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	return execOne(ctx, p.db,
		`UPDATE users SET email_verified = true, verification_code_hash = NULL, verification_expires_at = NULL, updated_at = $2 WHERE id = $1`,
		userID, at)
}

func (p *Postgres) SetTwoFactorEnrolling(ctx context.Context, userID, secret string, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE users SET two_factor_status = $2, two_factor_secret = $3, two_factor_last_counter = 0, updated_at = $4
		 WHERE id = $1 AND two_factor_status <> $5`,
		userID, int16(TwoFactorEnrolling), secret, at, int16(TwoFactorEnabled))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return p.missingOrConflict(ctx, userID)
	}
	return nil
}

func (p *Postgres) EnableTwoFactor(ctx context.Context, userID string, counter int64, backupHashes [][32]byte, at time.Time) error {
	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET two_factor_status = $2, two_factor_last_counter = $3, updated_at = $4
			 WHERE id = $1 AND two_factor_status = $5`,
			userID, int16(TwoFactorEnabled), counter, at, int16(TwoFactorEnrolling))
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if n == 0 {
			return ErrStateConflict
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM two_factor_backup_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		for _, h := range backupHashes {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO two_factor_backup_codes (user_id, code_hash) VALUES ($1, $2)`,
				userID, h[:]); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
		}
		return nil
	})
}

func (p *Postgres) DisableTwoFactor(ctx context.Context, userID string, at time.Time) error {
	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := execOne(ctx, tx,
			`UPDATE users SET two_factor_status = $2, two_factor_secret = NULL, two_factor_last_counter = 0, updated_at = $3 WHERE id = $1`,
			userID, int16(TwoFactorDisabled), at); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM two_factor_backup_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
}

func (p *Postgres) AdvanceTwoFactorCounter(ctx context.Context, userID string, counter int64) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE users SET two_factor_last_counter = $2 WHERE id = $1 AND two_factor_last_counter < $2`,
		userID, counter)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (p *Postgres) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM two_factor_backup_codes WHERE user_id = $1 AND code_hash = $2`,
		userID, hash[:])
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (p *Postgres) missingOrConflict(ctx context.Context, userID string) error {
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStateConflict
}

const sessionColumns = `id, user_id, token_hash, user_agent, ip, created_at, last_active_at, expires_at`

func scanSession(scan func(dest ...any) error) (*session.Session, error) {
	var s session.Session
	if err := scan(&s.ID, &s.UserID, &s.TokenHash, &s.UserAgent, &s.IP, &s.CreatedAt, &s.LastActiveAt, &s.ExpiresAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Postgres) CreateSession(ctx context.Context, s *session.Session) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.UserID, s.TokenHash, s.UserAgent, s.IP, s.CreatedAt, s.LastActiveAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (p *Postgres) SessionByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`, tokenHash)
	return sessionOrNotFound(scanSession(row.Scan))
}

func (p *Postgres) SessionByID(ctx context.Context, sessionID string) (*session.Session, error) {
	if !wellFormedID(sessionID) {
		return nil, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	return sessionOrNotFound(scanSession(row.Scan))
}

func sessionOrNotFound(s *session.Session, err error) (*session.Session, error) {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (p *Postgres) ListSessions(ctx context.Context, userID string, now time.Time) ([]session.Session, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = $1 AND expires_at > $2
		 ORDER BY last_active_at DESC`,
		userID, now)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]session.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (p *Postgres) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	if _, err := p.db.ExecContext(ctx, `UPDATE sessions SET last_active_at = $2 WHERE id = $1`, sessionID, at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteSession(ctx context.Context, sessionID string) error {
	if !wellFormedID(sessionID) {
		return nil
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteUserSessions(ctx context.Context, userID, exceptSessionID string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if exceptSessionID == "" {
		res, err = p.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	} else {
		res, err = p.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1 AND id <> $2`, userID, exceptSessionID)
	}
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return int(n), nil
}

func (p *Postgres) CreateResetToken(ctx context.Context, t *ResetToken) error {
	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE password_reset_tokens SET used = true WHERE user_id = $1 AND used = false`,
			t.UserID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, used, created_at)
			 VALUES ($1, $2, $3, $4, false, $5)`,
			t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
}

func (p *Postgres) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (string, error) {
	var userID string
	err := dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		err := tx.QueryRowContext(ctx,
			`UPDATE password_reset_tokens SET used = true
			 WHERE token_hash = $1 AND used = false AND expires_at > $2
			 RETURNING user_id`,
			tokenHash, now).Scan(&userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("db error: %w", err)
		}
		return execOne(ctx, tx,
			`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
			userID, newPasswordHash, now)
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (p *Postgres) AppendSecurityEvent(ctx context.Context, ev SecurityEvent) error {
	details := []byte("{}")
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
		details = b
	}

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO security_logs (event_type, user_id, ip, user_agent, success, error_code, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.Type, nullString(ev.UserID), ev.IP, ev.UserAgent, ev.Success, ev.Error, string(details), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func execOne(ctx context.Context, db dbx.DBTX, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
