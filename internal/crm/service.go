package crm

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/chatgame/service-auth/internal/crm/entity"
	crmrepo "github.com/chatgame/service-auth/internal/crm/repo"
)

// refreshMargin is how close to expiry a token gets before GetValidToken
// refreshes it instead of returning it.
const refreshMargin = 5 * time.Minute

var (
	ErrMissingCode   = errors.New("missing authorization code")
	ErrTokenExchange = errors.New("token exchange failed")
	ErrInvalidState  = errors.New("invalid state parameter")
	ErrUserNotFound  = errors.New("user not found for state")
	ErrNoConnection  = errors.New("user has no CRM connection")
	ErrRefreshFailed = errors.New("token refresh failed")
)

// ConnectionStore is the persistence contract for the broker. Replace swaps
// the whole sub-record; UpdateTokens patches token fields only.
type ConnectionStore interface {
	Get(ctx context.Context, userID string) (*entity.Connection, error)
	Replace(ctx context.Context, c *entity.Connection) error
	UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error
	MarkFailed(ctx context.Context, userID, message string) error
	Delete(ctx context.Context, userID string) error
}

// Service owns the connection state machine:
// Disconnected -> Connected -> (near expiry) -> refresh -> Connected | Error.
type Service struct {
	provider Provider
	store    ConnectionStore
	logger   *zap.SugaredLogger

	// refreshGroup collapses concurrent refreshes for the same user into a
	// single provider call; racing with an already-rotated refresh token
	// would otherwise mark a healthy connection as failed.
	refreshGroup singleflight.Group

	now func() time.Time
}

func NewService(provider Provider, store ConnectionStore, logger *zap.SugaredLogger) *Service {
	return &Service{provider: provider, store: store, logger: logger, now: time.Now}
}

type statePayload struct {
	UserID string `json:"userId"`
}

// ExchangeCode trades an authorization code for a token pair and stores it
// as a fresh connection on the user named by the state parameter. Any prior
// connection is replaced, not merged.
func (s *Service) ExchangeCode(ctx context.Context, code, locationID, companyID, state string) error {
	if code == "" {
		return ErrMissingCode
	}

	tok, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}

	userID, err := decodeState(state)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	conn := &entity.Connection{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(tok.ExpiresIn) * time.Second),
		LocationID:   locationID,
		CompanyID:    companyID,
		Connected:    true,
		UpdatedAt:    now,
	}
	if err := s.store.Replace(ctx, conn); err != nil {
		if crmrepo.IsForeignKeyViolation(err) {
			return ErrUserNotFound
		}
		return err
	}

	s.logger.Infow("crm connection established", "user_id", userID, "location_id", locationID)
	return nil
}

// GetValidToken returns an access token usable against the provider API.
// Tokens valid for more than five minutes are returned as stored, with no
// provider I/O; anything closer to expiry goes through a refresh first.
// Refresh is lazy and on demand only, never a background timer.
func (s *Service) GetValidToken(ctx context.Context, userID string) (string, error) {
	conn, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoConnection
		}
		return "", err
	}

	// Only expiry is checked here, not the connected flag: a connection in
	// the error state still re-attempts refresh on each access.
	if conn.ExpiresAt.After(s.now().Add(refreshMargin)) {
		return conn.AccessToken, nil
	}
	return s.refresh(ctx, userID, conn.RefreshToken)
}

func (s *Service) refresh(ctx context.Context, userID, refreshToken string) (string, error) {
	v, err, _ := s.refreshGroup.Do(userID, func() (any, error) {
		tok, err := s.provider.Refresh(ctx, refreshToken)
		if err != nil {
			// keep the stale tokens; only flag the connection
			if markErr := s.store.MarkFailed(ctx, userID, err.Error()); markErr != nil {
				s.logger.Errorw("mark refresh failure", "user_id", userID, "err", markErr)
			}
			s.logger.Warnw("crm token refresh failed", "user_id", userID, "err", err)
			return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
		}

		expiresAt := s.now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second)
		if err := s.store.UpdateTokens(ctx, userID, tok.AccessToken, tok.RefreshToken, expiresAt); err != nil {
			return "", err
		}
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Disconnect removes the user's connection. Idempotent: succeeds when no
// connection exists.
func (s *Service) Disconnect(ctx context.Context, userID string) error {
	return s.store.Delete(ctx, userID)
}

// Status is the client-facing connection summary.
type Status struct {
	Connected bool `json:"connected"`
	// IsExpired is present only when connected; a disconnected status is
	// reported as {"connected": false} alone.
	IsExpired  *bool  `json:"isExpired,omitempty"`
	LocationID string `json:"locationId,omitempty"`
	CompanyID  string `json:"companyId,omitempty"`
}

// GetStatus reports the current connection state. It never fails the caller
// for a missing connection; that is just "not connected".
func (s *Service) GetStatus(ctx context.Context, userID string) (*Status, error) {
	conn, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &Status{Connected: false}, nil
		}
		return nil, err
	}

	state := conn.State()
	if state.Kind != entity.StateConnected {
		return &Status{Connected: false}, nil
	}
	expired := state.Expired(s.now())
	return &Status{
		Connected:  true,
		IsExpired:  &expired,
		LocationID: conn.LocationID,
		CompanyID:  conn.CompanyID,
	}, nil
}

func decodeState(state string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(state)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	var payload statePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if payload.UserID == "" {
		return "", ErrUserNotFound
	}
	return payload.UserID, nil
}
