package security

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martin/internal/apperr"
	"martin/internal/clock"
	"martin/internal/config"
	"martin/internal/store"
)

func newTestService(t *testing.T, clk clock.Clock) *Service {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	cfg := config.SecurityConfig{MasterKey: "test-master-key", TOTPIssuer: "martin-test", TOTPAccount: "op", ArmTTLSeconds: 60}
	return New(db, cfg, clk)
}

func TestStoreAndLoadCredentialsRoundTrips(t *testing.T) {
	s := newTestService(t, clock.FixedClock{At: time.Now()})
	require.NoError(t, s.StoreCredentials("key-123", "secret-456"))

	creds, err := s.LoadCredentials()
	require.NoError(t, err)
	assert.Equal(t, "key-123", creds.APIKey)
	assert.Equal(t, "secret-456", creds.APISecret)
}

func TestLoadCredentialsFailsWhenNoneStored(t *testing.T) {
	s := newTestService(t, clock.FixedClock{At: time.Now()})
	_, err := s.LoadCredentials()
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindSecurity))
}

func TestLoadCredentialsFailsWithWrongMasterKey(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	clk := clock.FixedClock{At: time.Now()}

	a := New(db, config.SecurityConfig{MasterKey: "key-a", ArmTTLSeconds: 60}, clk)
	require.NoError(t, a.StoreCredentials("k", "s"))

	b := New(db, config.SecurityConfig{MasterKey: "key-b", ArmTTLSeconds: 60}, clk)
	_, err = b.LoadCredentials()
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindSecurity))
}

func TestArmSucceedsWithValidCodeAndExpiresAfterTTL(t *testing.T) {
	now := time.Now()
	clk := &tickableClock{at: now}
	s := newTestService(t, clk)

	url, err := s.EnrollTOTP()
	require.NoError(t, err)
	require.Contains(t, url, "otpauth://")

	secret, err := s.totpSecret()
	require.NoError(t, err)
	code, err := totp.GenerateCode(secret, now)
	require.NoError(t, err)

	assert.False(t, s.Armed())
	require.NoError(t, s.Arm(code))
	assert.True(t, s.Armed())

	clk.at = now.Add(61 * time.Second)
	assert.False(t, s.Armed(), "arming must expire after arm_ttl_seconds")
}

func TestArmRejectsBadCode(t *testing.T) {
	s := newTestService(t, clock.FixedClock{At: time.Now()})
	_, err := s.EnrollTOTP()
	require.NoError(t, err)

	err = s.Arm("000000")
	assert.Error(t, err)
	assert.False(t, s.Armed())
}

func TestDisarmRevokesImmediately(t *testing.T) {
	now := time.Now()
	clk := &tickableClock{at: now}
	s := newTestService(t, clk)
	_, err := s.EnrollTOTP()
	require.NoError(t, err)
	secret, err := s.totpSecret()
	require.NoError(t, err)
	code, err := totp.GenerateCode(secret, now)
	require.NoError(t, err)
	require.NoError(t, s.Arm(code))
	require.True(t, s.Armed())

	s.Disarm()
	assert.False(t, s.Armed())
}

// tickableClock lets a test advance time after construction, unlike the
// immutable clock.FixedClock value.
type tickableClock struct{ at time.Time }

func (c *tickableClock) Now() time.Time { return c.at }
