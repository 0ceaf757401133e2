package entity

import "time"

// Connection is the stored OAuth link between a user and the CRM provider.
// At most one row exists per user; an exchange replaces it wholesale while a
// refresh patches only the token fields.
type Connection struct {
	UserID       string    `db:"user_id"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresAt    time.Time `db:"expires_at"`
	LocationID   string    `db:"location_id"`
	CompanyID    string    `db:"company_id"`
	Connected    bool      `db:"connected"`
	LastError    *string   `db:"last_error"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// StateKind enumerates the connection lifecycle states.
type StateKind int

const (
	StateDisconnected StateKind = iota
	StateConnected
	StateError
)

// State is the explicit variant form of the flat stored row.
type State struct {
	Kind      StateKind
	ExpiresAt time.Time
	Message   string
}

// State decodes the stored field combination into a tagged variant. A nil
// connection is Disconnected; connected=false with last_error set is Error.
func (c *Connection) State() State {
	if c == nil {
		return State{Kind: StateDisconnected}
	}
	if !c.Connected {
		if c.LastError != nil {
			return State{Kind: StateError, ExpiresAt: c.ExpiresAt, Message: *c.LastError}
		}
		return State{Kind: StateDisconnected}
	}
	return State{Kind: StateConnected, ExpiresAt: c.ExpiresAt}
}

// Expired reports whether the connection's access token is past expiry.
func (s State) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
