package postgres

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"couplesync/internal/common"
)

func discardSlog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sessionError reports a dead session token before a doomed round trip.
// Signature verification belongs to the auth service; the client only
// reads the expiry claim, so ParseUnverified is deliberate here.
func (s *Store) sessionError() error {
	if s.session == "" {
		return nil
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.session, claims); err != nil {
		return fmt.Errorf("%w: %v", common.ErrSessionInvalid, err)
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return fmt.Errorf("%w: token expired", common.ErrSessionInvalid)
	}
	return nil
}
