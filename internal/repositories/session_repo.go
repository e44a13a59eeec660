package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/meridian-erp/gatekeeper/internal/database"
	"github.com/meridian-erp/gatekeeper/internal/models"
)

// SessionRepository is the durable session store. Creation with capacity
// eviction and refresh-token rotation are single atomic operations so two
// concurrent requests can never both succeed on the same stale state.
type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, created_at, last_activity_at, absolute_expires_at,
	idle_timeout_seconds, ip_address, user_agent, device_fingerprint, remember_me,
	refresh_jti, revoked_at, revoked_reason`

// activePredicate selects sessions that are neither revoked nor expired by
// either policy, with $N bound to the evaluation time.
func activePredicate(nowParam string) string {
	return `revoked_at IS NULL
		AND absolute_expires_at > ` + nowParam + `
		AND last_activity_at + make_interval(secs => idle_timeout_seconds) > ` + nowParam
}

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var s models.Session
	var idleSeconds int

	err := scanner.Scan(
		&s.ID, &s.UserID, &s.CreatedAt, &s.LastActivityAt, &s.AbsoluteExpiresAt,
		&idleSeconds, &s.IPAddress, &s.UserAgent, &s.DeviceFingerprint, &s.RememberMe,
		&s.RefreshJTI, &s.RevokedAt, &s.RevokedReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrSessionNotFound
		}
		return nil, database.MapPostgresError(err)
	}

	s.IdleTimeout = time.Duration(idleSeconds) * time.Second
	return &s, nil
}

// Create inserts a session, evicting least-recently-active sessions first if
// the user is at the concurrency cap. The transaction takes the user row lock
// up front: locking only the session rows would not stop a concurrent Create
// from inserting a row this transaction's count never sees.
// Returns the IDs of any evicted sessions for audit logging.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session, maxConcurrent int) ([]string, error) {
	var evicted []string

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		now := time.Now()

		if _, err := tx.Exec(ctx, `
			SELECT id FROM users WHERE id = $1 FOR UPDATE
		`, session.UserID); err != nil {
			return fmt.Errorf("failed to lock user row: %w", err)
		}

		rows, err := tx.Query(ctx, `
			SELECT id FROM sessions
			WHERE user_id = $1 AND `+activePredicate("$2")+`
			ORDER BY last_activity_at ASC
		`, session.UserID, now)
		if err != nil {
			return fmt.Errorf("failed to lock active sessions: %w", err)
		}

		var active []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			active = append(active, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		// Evict oldest-by-activity until the new session fits under the cap.
		if excess := len(active) - maxConcurrent + 1; excess > 0 {
			evicted = active[:excess]
			_, err := tx.Exec(ctx, `
				UPDATE sessions SET revoked_at = $2, revoked_reason = 'concurrency_cap'
				WHERE id = ANY($1)
			`, evicted, now)
			if err != nil {
				return fmt.Errorf("failed to evict sessions: %w", err)
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO sessions (id, user_id, created_at, last_activity_at, absolute_expires_at,
				idle_timeout_seconds, ip_address, user_agent, device_fingerprint, remember_me, refresh_jti)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			session.ID, session.UserID, session.CreatedAt, session.LastActivityAt,
			session.AbsoluteExpiresAt, int(session.IdleTimeout.Seconds()),
			session.IPAddress, session.UserAgent, session.DeviceFingerprint,
			session.RememberMe, session.RefreshJTI,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return evicted, nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSessionRow(r.db.Pool.QueryRow(ctx, query, id))
}

// Touch advances last_activity_at, but only on a session that is still
// active; the conditional UPDATE makes the expiry check and the write one
// atomic step. Returns ErrSessionExpired for a known-but-expired session.
func (r *SessionRepository) Touch(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE sessions SET last_activity_at = $2
		WHERE id = $1 AND ` + activePredicate("$2")

	result, err := r.db.Pool.Exec(ctx, query, id, now)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: distinguish missing from expired/revoked.
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return models.ErrSessionExpired
}

// RotateRefreshJTI atomically swaps the stored refresh JTI, succeeding only
// when the presented JTI is still current and the session is active. A zero
// row count on a live session means the presented token was already consumed.
// Returns the rotated session on success.
func (r *SessionRepository) RotateRefreshJTI(ctx context.Context, sessionID, oldJTI, newJTI string, now time.Time) (*models.Session, error) {
	query := `
		UPDATE sessions SET refresh_jti = $3, last_activity_at = $4
		WHERE id = $1 AND refresh_jti = $2 AND ` + activePredicate("$4") + `
		RETURNING ` + sessionColumns

	session, err := scanSessionRow(r.db.Pool.QueryRow(ctx, query, sessionID, oldJTI, newJTI, now))
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, models.ErrSessionNotFound) {
		return nil, err
	}

	// The CAS failed; inspect the session to classify why.
	current, getErr := r.Get(ctx, sessionID)
	if getErr != nil {
		return nil, getErr
	}
	if !current.IsActive(now) {
		return nil, models.ErrSessionExpired
	}
	return nil, models.ErrTokenReused
}

func (r *SessionRepository) Revoke(ctx context.Context, id, reason string) error {
	query := `
		UPDATE sessions SET revoked_at = NOW(), revoked_reason = $2
		WHERE id = $1 AND revoked_at IS NULL
	`

	result, err := r.db.Pool.Exec(ctx, query, id, reason)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *SessionRepository) RevokeAll(ctx context.Context, userID, reason string) (int64, error) {
	query := `
		UPDATE sessions SET revoked_at = NOW(), revoked_reason = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`

	result, err := r.db.Pool.Exec(ctx, query, userID, reason)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

func (r *SessionRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1 AND ` + activePredicate("$2") + `
		ORDER BY last_activity_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return sessions, nil
}

// DeleteExpired removes revoked and expired rows. Best-effort cleanup driven
// by the reaper; lazy eviction at access time is the correctness path.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE revoked_at IS NOT NULL
			OR absolute_expires_at <= $1
			OR last_activity_at + make_interval(secs => idle_timeout_seconds) <= $1
	`

	result, err := r.db.Pool.Exec(ctx, query, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
