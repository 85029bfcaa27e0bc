package fritzbox

import (
	"context"
	"fmt"
	"sync"

	fmerrors "github.com/rcourtman/fritzmesh/internal/errors"
	"github.com/rcourtman/fritzmesh/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Session owns the single authenticated session with the router.
//
// Renew calls are serialized; Current may be called from any goroutine.
// There is no local expiry: the router is asked whether the SID is still
// good every time Renew runs.
type Session struct {
	client *Client

	renewMu sync.Mutex

	mu       sync.RWMutex
	sid      SID
	username string
	password string
}

// NewSession creates a session that starts out logged out.
func NewSession(client *Client, username, password string) *Session {
	return &Session{
		client:   client,
		sid:      InvalidSID,
		username: username,
		password: password,
	}
}

// Current returns the SID held right now.
func (s *Session) Current() SID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sid
}

// Valid reports whether the session currently holds a usable SID.
func (s *Session) Valid() bool {
	return s.Current().Valid()
}

// Invalidate drops the current SID so the next Renew logs in again.
func (s *Session) Invalidate() {
	s.setSID(InvalidSID)
}

// SetCredentials replaces the login credentials. The current SID is kept;
// the new credentials are used the next time a login is required.
func (s *Session) SetCredentials(username, password string) {
	s.mu.Lock()
	changed := s.username != username || s.password != password
	s.username = username
	s.password = password
	s.mu.Unlock()

	if changed {
		log.Info().Str("username", username).Msg("Router credentials updated")
	}
}

// Renew makes sure a valid session exists and returns its SID. If the
// router still accepts the current SID it is returned unchanged, otherwise
// the challenge is answered and a new SID is obtained. On any failure the
// session is left logged out and InvalidSID is returned with the error.
func (s *Session) Renew(ctx context.Context) (SID, error) {
	s.renewMu.Lock()
	defer s.renewMu.Unlock()

	current := s.Current()

	status, err := s.client.LoginStatus(ctx, current)
	if err != nil {
		return s.fail(err)
	}

	if status.SID.Valid() {
		log.Debug().Str("sid", status.SID.String()).Msg("Old SID still valid")
		s.setSID(status.SID)
		metrics.RecordSessionRenewal("reused", true)
		return status.SID, nil
	}

	if status.BlockTime > 0 {
		log.Warn().
			Int("block_time_seconds", status.BlockTime).
			Msg("Router is blocking logins after failed attempts")
	}

	if status.Challenge == "" {
		return s.fail(fmerrors.WrapProtocolError("login_status", loginPath, fmt.Errorf("session document has no challenge")))
	}

	s.mu.RLock()
	username, password := s.username, s.password
	s.mu.RUnlock()

	response, err := ComputeChallengeResponse(status.Challenge, password)
	if err != nil {
		return s.fail(err)
	}

	info, err := s.client.Login(ctx, username, response)
	if err != nil {
		return s.fail(err)
	}

	if !info.SID.Valid() {
		authErr := fmt.Errorf("router rejected login for user %q", username)
		if info.BlockTime > 0 {
			authErr = fmt.Errorf("router rejected login for user %q, blocked for %ds", username, info.BlockTime)
		}
		return s.fail(fmerrors.WrapAuthError("login", loginPath, authErr))
	}

	s.setSID(info.SID)
	metrics.RecordSessionRenewal("login", true)
	log.Info().Str("sid", info.SID.String()).Msg("Created new SID")

	return info.SID, nil
}

func (s *Session) fail(err error) (SID, error) {
	s.setSID(InvalidSID)
	metrics.RecordSessionRenewal("failed", false)
	log.Warn().Err(err).Msg("Failed to update SID")
	return InvalidSID, err
}

func (s *Session) setSID(sid SID) {
	s.mu.Lock()
	s.sid = sid
	s.mu.Unlock()
}
