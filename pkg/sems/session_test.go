package sems

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(portal *TestPortal, password string, maxAge time.Duration) *SessionManager {
	logger := zap.NewNop()
	client := NewClient(5*time.Second, logger)
	return NewSessionManager(client, Credential{Email: portal.Email, Password: password}, SessionConfig{
		BaseURL:       portal.BaseURL(),
		MaxAge:        maxAge,
		RefreshMargin: time.Minute,
	}, logger)
}

func TestEnsureSessionReusesToken(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	portal := NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	manager := newTestManager(portal, "secret", 0)

	first, err := manager.EnsureSession(context.Background())
	require.NoError(err)
	second, err := manager.EnsureSession(context.Background())
	require.NoError(err)

	assert.Equal(first.Token.Token, second.Token.Token, "token reused")
	assert.Equal(1, portal.Requests(LoginEndpoint), "single login")
	assert.Nil(first.ExpiresAt, "no expiry without max age")
	assert.NotNil(manager.Current())
}

func TestEnsureSessionRejectedCredential(t *testing.T) {

	assert := assert.New(t)

	portal := NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	manager := newTestManager(portal, "wrong", 0)

	_, err := manager.EnsureSession(context.Background())
	assert.ErrorIs(err, ErrAuthentication)
	assert.Nil(manager.Current(), "no session cached")
	assert.Equal(1, portal.Requests(LoginEndpoint), "rejection is not retried")
}

func TestEnsureSessionRetriesLoginOnce(t *testing.T) {

	assert := assert.New(t)

	portal := NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	manager := newTestManager(portal, "secret", 0)

	portal.FailNextLogins(1)
	_, err := manager.EnsureSession(context.Background())
	assert.NoError(err, "second attempt succeeds")
	assert.Equal(2, portal.Requests(LoginEndpoint))

	manager.Invalidate()
	portal.FailNextLogins(2)
	_, err = manager.EnsureSession(context.Background())
	assert.ErrorIs(err, ErrTransient)
	assert.Equal(4, portal.Requests(LoginEndpoint))
}

func TestInvalidateForcesLogin(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	portal := NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	manager := newTestManager(portal, "secret", 0)

	first, err := manager.EnsureSession(context.Background())
	require.NoError(err)
	manager.Invalidate()
	assert.Nil(manager.Current())

	second, err := manager.EnsureSession(context.Background())
	require.NoError(err)
	assert.NotEqual(first.Token.Token, second.Token.Token, "new token after invalidate")
	assert.Equal(2, manager.Logins())
}

func TestEnsureSessionRefreshesNearExpiry(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	portal := NewTestPortal("owner@example.com", "secret")
	defer portal.Close()

	now := time.Date(2025, 12, 9, 8, 0, 0, 0, time.UTC)
	manager := newTestManager(portal, "secret", time.Hour).WithClock(func() time.Time { return now })

	first, err := manager.EnsureSession(context.Background())
	require.NoError(err)
	require.NotNil(first.ExpiresAt)
	assert.Equal(now.Add(time.Hour), *first.ExpiresAt)

	now = now.Add(30 * time.Minute)
	second, err := manager.EnsureSession(context.Background())
	require.NoError(err)
	assert.Equal(first.Token.Token, second.Token.Token, "still fresh")

	// inside the refresh margin
	now = now.Add(29*time.Minute + 30*time.Second)
	third, err := manager.EnsureSession(context.Background())
	require.NoError(err)
	assert.NotEqual(first.Token.Token, third.Token.Token, "refreshed")
	assert.Equal(2, portal.Requests(LoginEndpoint))
}

func TestRefreshFailureKeepsOldSession(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	portal := NewTestPortal("owner@example.com", "secret")
	defer portal.Close()

	now := time.Date(2025, 12, 9, 8, 0, 0, 0, time.UTC)
	manager := newTestManager(portal, "secret", time.Hour).WithClock(func() time.Time { return now })

	first, err := manager.EnsureSession(context.Background())
	require.NoError(err)

	now = now.Add(time.Hour)
	portal.FailNextLogins(2)
	_, err = manager.EnsureSession(context.Background())
	assert.ErrorIs(err, ErrTransient)

	current := manager.Current()
	require.NotNil(current)
	assert.Equal(first.Token.Token, current.Token.Token, "old session intact")
}

func TestRegionRedirect(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	portal := NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	portal.Region = "eu"
	portal.AddStation(NewTestStation("st-1"))

	manager := newTestManager(portal, "secret", 0)
	session, err := manager.EnsureSession(context.Background())
	require.NoError(err)
	assert.Equal(portal.RegionURL(), session.BaseURL)

	client := NewClient(5*time.Second, zap.NewNop())
	_, err = client.StationIDs(context.Background(), session)
	require.NoError(err)

	paths := portal.Paths()
	assert.Equal("/api/"+LoginEndpoint, paths[0], "login on the default host")
	assert.Equal("/eu/api/"+StationsEndpoint, paths[1], "calls follow the region")
}

func TestCredentialStringRedactsPassword(t *testing.T) {

	assert := assert.New(t)

	cred := Credential{Email: "owner@example.com", Password: "hunter2"}
	assert.NotContains(cred.String(), "hunter2")
	assert.Contains(cred.String(), "owner@example.com")
}

func TestCloseDropsSession(t *testing.T) {

	assert := assert.New(t)

	portal := NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	manager := newTestManager(portal, "secret", 0)

	_, err := manager.EnsureSession(context.Background())
	assert.NoError(err)
	manager.Close()
	assert.Nil(manager.Current())
}

func TestCancelledRefreshKeepsOldSession(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	portal := NewTestPortal("owner@example.com", "secret")
	defer portal.Close()

	now := time.Date(2025, 12, 9, 8, 0, 0, 0, time.UTC)
	manager := newTestManager(portal, "secret", time.Hour).WithClock(func() time.Time { return now })

	first, err := manager.EnsureSession(context.Background())
	require.NoError(err)

	now = now.Add(2 * time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = manager.EnsureSession(ctx)
	assert.ErrorIs(err, ErrTransient)
	assert.Equal(2, manager.Logins(), "no retry once cancelled")

	current := manager.Current()
	require.NotNil(current)
	assert.Equal(first.Token.Token, current.Token.Token, "old session intact")
}
