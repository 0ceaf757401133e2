package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/chatgame/service-auth/internal/crm/entity"
)

// ConnectionRepo persists CRM OAuth connections, one row per user.
type ConnectionRepo struct {
	db *sqlx.DB
}

func NewConnectionRepo(db *sqlx.DB) *ConnectionRepo { return &ConnectionRepo{db: db} }

// EnsureTable creates the crm_connections table if not exists (idempotent).
func (r *ConnectionRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS crm_connections (
  user_id TEXT PRIMARY KEY REFERENCES users(id),
  access_token TEXT NOT NULL,
  refresh_token TEXT NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  location_id TEXT NOT NULL DEFAULT '',
  company_id TEXT NOT NULL DEFAULT '',
  connected BOOLEAN NOT NULL DEFAULT true,
  last_error TEXT,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Get returns the user's connection row or sql.ErrNoRows.
func (r *ConnectionRepo) Get(ctx context.Context, userID string) (*entity.Connection, error) {
	const q = `SELECT user_id, access_token, refresh_token, expires_at, location_id, company_id, connected, last_error, updated_at
		FROM crm_connections WHERE user_id=$1`
	var row entity.Connection
	if err := r.db.GetContext(ctx, &row, q, userID); err != nil {
		return nil, err
	}
	return &row, nil
}

// Replace upserts the whole connection row. A successful code exchange does
// not merge with any prior connection.
func (r *ConnectionRepo) Replace(ctx context.Context, c *entity.Connection) error {
	const q = `INSERT INTO crm_connections (user_id, access_token, refresh_token, expires_at, location_id, company_id, connected, last_error, updated_at)
		VALUES (:user_id, :access_token, :refresh_token, :expires_at, :location_id, :company_id, :connected, :last_error, :updated_at)
		ON CONFLICT (user_id) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			location_id=EXCLUDED.location_id,
			company_id=EXCLUDED.company_id,
			connected=EXCLUDED.connected,
			last_error=EXCLUDED.last_error,
			updated_at=EXCLUDED.updated_at`
	_, err := r.db.NamedExecContext(ctx, q, c)
	return err
}

// UpdateTokens patches only the token fields after a successful refresh.
// Location, company and the connected flag are left as-is.
func (r *ConnectionRepo) UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error {
	const q = `UPDATE crm_connections SET access_token=$2, refresh_token=$3, expires_at=$4, updated_at=NOW() WHERE user_id=$1`
	_, err := r.db.ExecContext(ctx, q, userID, accessToken, refreshToken, expiresAt)
	return err
}

// MarkFailed records a refresh failure. The stale tokens stay in place so a
// later call can retry against the provider.
func (r *ConnectionRepo) MarkFailed(ctx context.Context, userID, message string) error {
	const q = `UPDATE crm_connections SET connected=false, last_error=$2, updated_at=NOW() WHERE user_id=$1`
	_, err := r.db.ExecContext(ctx, q, userID, message)
	return err
}

// Delete removes the connection row. Deleting a missing row is not an error.
func (r *ConnectionRepo) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM crm_connections WHERE user_id=$1`, userID)
	return err
}

// IsForeignKeyViolation reports whether err is a Postgres FK violation,
// which on Replace means the target user does not exist.
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
