package sems

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Credential struct {
	Email    string
	Password string
}

func (c Credential) String() string {
	return c.Email + ":******"
}

type Session struct {
	Token     TokenData
	IssuedAt  time.Time
	ExpiresAt *time.Time
	BaseURL   string
}

func (s Session) Header() string {
	return s.Token.Encode()
}

// Expired reports whether the session is within margin of its expiry.
// Sessions without expiry never expire.
func (s Session) Expired(now time.Time, margin time.Duration) bool {
	if s.ExpiresAt == nil {
		return false
	}
	return !now.Before(s.ExpiresAt.Add(-margin))
}

type SessionConfig struct {
	BaseURL       string
	MaxAge        time.Duration
	RefreshMargin time.Duration
	// OnLogin, when set, is called after every login attempt.
	OnLogin func(err error)
}

type LoginClient interface {
	Login(ctx context.Context, baseURL string, cred Credential) (*LoginResult, error)
}

// SessionManager owns the credential and the single live Session of one account.
type SessionManager struct {
	client     LoginClient
	credential Credential
	config     SessionConfig
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	session *Session
	logins  int
}

func NewSessionManager(client LoginClient, credential Credential, config SessionConfig, logger *zap.Logger) *SessionManager {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	return &SessionManager{
		client:     client,
		credential: credential,
		config:     config,
		logger:     logger.With(zap.String("account", credential.Email)),
		now:        time.Now,
	}
}

// WithClock replaces the time source, used by tests to simulate expiry.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	return m
}

func (m *SessionManager) Account() string {
	return m.credential.Email
}

// EnsureSession returns the cached session, logging in when there is none or
// when it is about to expire.
func (m *SessionManager) EnsureSession(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && !m.session.Expired(m.now(), m.config.RefreshMargin) {
		return *m.session, nil
	}
	refresh := m.session != nil

	session, err := m.login(ctx)
	if err != nil {
		if IsAuthentication(err) {
			// a rejected credential cannot keep a session alive
			m.session = nil
		}
		return Session{}, err
	}
	if refresh {
		m.logger.Info("session refreshed")
	}
	m.session = session
	return *session, nil
}

func (m *SessionManager) login(ctx context.Context) (*Session, error) {
	var (
		res *LoginResult
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		res, err = m.client.Login(ctx, m.config.BaseURL, m.credential)
		m.logins++
		if m.config.OnLogin != nil {
			m.config.OnLogin(err)
		}
		if err == nil || !IsTransient(err) || ctx.Err() != nil {
			break
		}
		m.logger.Warn("login failed, retrying", zap.Error(err))
	}
	if err != nil {
		m.logger.Error("login failed", zap.Error(err))
		return nil, err
	}

	now := m.now()
	session := &Session{
		Token:    res.Token,
		IssuedAt: now,
		BaseURL:  m.config.BaseURL,
	}
	if res.API != "" && !sameURL(res.API, m.config.BaseURL) {
		m.logger.Info("using regional endpoint", zap.String("api", res.API))
		session.BaseURL = res.API
	}
	if m.config.MaxAge > 0 {
		expires := now.Add(m.config.MaxAge)
		session.ExpiresAt = &expires
	}
	m.logger.Debug("logged in", zap.String("base_url", session.BaseURL))
	return session, nil
}

func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.logger.Info("session invalidated")
	}
	m.session = nil
}

// Current returns a copy of the live session, nil if there is none.
func (m *SessionManager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// Logins returns the number of login calls performed, retries included.
func (m *SessionManager) Logins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logins
}

func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
}

func sameURL(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}
