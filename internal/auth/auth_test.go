package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"library-backend/internal/models"
	"library-backend/internal/storage"
	"library-backend/internal/storage/stubs"
)

func newTestService(t *testing.T) (*Service, *stubs.MockDB) {
	t.Helper()
	db := stubs.NewMockDB()
	issuer := NewIssuer("test-secret", 5*time.Minute, time.Hour)
	return NewService(db, issuer, zap.NewNop()), db
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)
	assert.True(t, CheckPassword(hash, "s3cret"))
	assert.False(t, CheckPassword(hash, "wrong"))
}

func TestCan(t *testing.T) {
	assert.True(t, Can(models.RoleLibrarian, CapManageBooks))
	assert.True(t, Can(models.RoleAdmin, CapManageBooks))
	assert.False(t, Can(models.RoleMember, CapManageBooks))

	assert.True(t, Can(models.RoleLibrarian, CapBorrowForOthers))
	assert.False(t, Can(models.RoleAdmin, CapBorrowForOthers))

	assert.True(t, Can(models.RoleLibrarian, CapViewAllLoans))
	assert.False(t, Can(models.RoleAdmin, CapViewAllLoans))

	assert.False(t, Can("", CapListUsers))
	assert.False(t, Can(models.RoleAdmin, Capability("unknown")))
}

func TestService_RegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "", "pw")
	assert.ErrorIs(t, err, ErrMissingFields)

	user, err := svc.Register(ctx, "alice", "alice@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, user.Role)

	_, err = svc.Register(ctx, "alice", "other@example.com", "pw")
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, _, err = svc.Login(ctx, "alice", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "bob", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	pair, got, err := svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	authed, err := svc.Authenticate(ctx, pair.Access)
	require.NoError(t, err)
	assert.Equal(t, "alice", authed.Username)

	_, err = svc.Authenticate(ctx, pair.Refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	access, err := svc.Refresh(pair.Refresh)
	require.NoError(t, err)
	claims, err := svc.Issuer().Parse(access, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	_, err = svc.Refresh(pair.Access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_Expired(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Minute, time.Hour)
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return issued }

	pair, err := issuer.IssuePair(&models.User{ID: 1, Username: "alice", Role: models.RoleMember})
	require.NoError(t, err)

	issuer.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = issuer.Parse(pair.Access, TokenAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Parse(pair.Refresh, TokenRefresh)
	assert.NoError(t, err)
}

func TestIssuer_RejectsForeignTokens(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Minute, time.Hour)
	other := NewIssuer("other-secret", time.Minute, time.Hour)

	pair, err := other.IssuePair(&models.User{ID: 1, Username: "alice", Role: models.RoleAdmin})
	require.NoError(t, err)
	_, err = issuer.Parse(pair.Access, TokenAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1, TokenType: TokenAccess}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.Parse(unsigned, TokenAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
