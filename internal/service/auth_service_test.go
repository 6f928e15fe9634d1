package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/campushub/thesis-api/internal/models"
	appErrors "github.com/campushub/thesis-api/pkg/errors"
)

type authRepoStub struct {
	findByEmailFn     func(ctx context.Context, email string) (*models.User, error)
	findByIDFn        func(ctx context.Context, id string) (*models.User, error)
	updateLastLoginFn func(ctx context.Context, id string, ts time.Time) error
	updatePasswordFn  func(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	updateGroupsFn    func(ctx context.Context, id string, groups models.GroupList, syncedAt time.Time) error
	revokeAllFn       func(ctx context.Context, userID string) error
	createTokenFn     func(ctx context.Context, token *models.RefreshToken) error
	findTokenFn       func(ctx context.Context, token string) (*models.RefreshToken, error)
	revokeTokenFn     func(ctx context.Context, id string, revokedAt time.Time) error
}

func (s *authRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if s.findByEmailFn != nil {
		return s.findByEmailFn(ctx, email)
	}
	return nil, sql.ErrNoRows
}

func (s *authRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, id)
	}
	return nil, sql.ErrNoRows
}

func (s *authRepoStub) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if s.updateLastLoginFn != nil {
		return s.updateLastLoginFn(ctx, id, ts)
	}
	return nil
}

func (s *authRepoStub) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if s.updatePasswordFn != nil {
		return s.updatePasswordFn(ctx, id, passwordHash, updatedAt)
	}
	return nil
}

func (s *authRepoStub) UpdateGroups(ctx context.Context, id string, groups models.GroupList, syncedAt time.Time) error {
	if s.updateGroupsFn != nil {
		return s.updateGroupsFn(ctx, id, groups, syncedAt)
	}
	return nil
}

func (s *authRepoStub) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	if s.revokeAllFn != nil {
		return s.revokeAllFn(ctx, userID)
	}
	return nil
}

func (s *authRepoStub) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if s.createTokenFn != nil {
		return s.createTokenFn(ctx, token)
	}
	return nil
}

func (s *authRepoStub) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if s.findTokenFn != nil {
		return s.findTokenFn(ctx, token)
	}
	return nil, sql.ErrNoRows
}

func (s *authRepoStub) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	if s.revokeTokenFn != nil {
		return s.revokeTokenFn(ctx, id, revokedAt)
	}
	return nil
}

func testAuthConfig() AuthConfig {
	return AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "thesis-api",
		Audience:           []string{"thesis-api"},
	}
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func authUser(t *testing.T) *models.User {
	return &models.User{
		ID:           "u1",
		Email:        "user@uni.example",
		FirstName:    "Sam",
		LastName:     "One",
		UniversityID: "uni-u1",
		Groups:       models.GroupList{models.GroupStudent},
		Active:       true,
		PasswordHash: hashPassword(t, "correct horse"),
	}
}

func TestLoginRefreshesGroupsFromIdentityProvider(t *testing.T) {
	user := authUser(t)
	var persistedGroups models.GroupList
	repo := &authRepoStub{
		findByEmailFn: func(_ context.Context, _ string) (*models.User, error) { return user, nil },
		updateGroupsFn: func(_ context.Context, _ string, groups models.GroupList, _ time.Time) error {
			persistedGroups = groups
			return nil
		},
	}
	identity := &identityRecorder{groups: []string{models.GroupStudent, models.GroupAdvisor}}

	svc := NewAuthService(repo, identity, nil, nil, testAuthConfig())
	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@uni.example", Password: "correct horse"})
	require.NoError(t, err)

	assert.Equal(t, models.GroupList{models.GroupStudent, models.GroupAdvisor}, persistedGroups)
	assert.Equal(t, []string{models.GroupStudent, models.GroupAdvisor}, resp.User.Groups)

	// The freshly issued token carries the refreshed set.
	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{models.GroupStudent, models.GroupAdvisor}, claims.Groups)
}

func TestLoginProviderOutageFallsBackToCachedGroups(t *testing.T) {
	user := authUser(t)
	repo := &authRepoStub{
		findByEmailFn: func(_ context.Context, _ string) (*models.User, error) { return user, nil },
		updateGroupsFn: func(_ context.Context, _ string, _ models.GroupList, _ time.Time) error {
			t.Fatal("a provider outage must not overwrite the cached groups")
			return nil
		},
	}
	identity := &identityRecorder{groupsErr: errors.New("keycloak down")}

	svc := NewAuthService(repo, identity, nil, nil, testAuthConfig())
	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@uni.example", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, []string{models.GroupStudent}, resp.User.Groups)
}

func TestLoginWrongPassword(t *testing.T) {
	user := authUser(t)
	repo := &authRepoStub{
		findByEmailFn: func(_ context.Context, _ string) (*models.User, error) { return user, nil },
	}
	svc := NewAuthService(repo, &identityRecorder{}, nil, nil, testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@uni.example", Password: "wrong"})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrCode(t, err))
}

func TestLoginUnknownEmailLooksLikeWrongPassword(t *testing.T) {
	svc := NewAuthService(&authRepoStub{}, &identityRecorder{}, nil, nil, testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ghost@uni.example", Password: "whatever"})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrCode(t, err))
}

func TestLoginInactiveAccount(t *testing.T) {
	user := authUser(t)
	user.Active = false
	repo := &authRepoStub{
		findByEmailFn: func(_ context.Context, _ string) (*models.User, error) { return user, nil },
	}
	svc := NewAuthService(repo, &identityRecorder{}, nil, nil, testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@uni.example", Password: "correct horse"})
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrCode(t, err))
}

func TestRefreshRotatesToken(t *testing.T) {
	user := authUser(t)
	stored := &models.RefreshToken{
		ID:        "rt1",
		UserID:    "u1",
		Token:     "old-token",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}

	var revokedID string
	var created *models.RefreshToken
	repo := &authRepoStub{
		findTokenFn: func(_ context.Context, _ string) (*models.RefreshToken, error) { return stored, nil },
		findByIDFn:  func(_ context.Context, _ string) (*models.User, error) { return user, nil },
		revokeTokenFn: func(_ context.Context, id string, _ time.Time) error {
			revokedID = id
			return nil
		},
		createTokenFn: func(_ context.Context, token *models.RefreshToken) error {
			created = token
			return nil
		},
	}
	svc := NewAuthService(repo, &identityRecorder{}, nil, nil, testAuthConfig())

	resp, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "old-token"})
	require.NoError(t, err)

	assert.Equal(t, "rt1", revokedID)
	require.NotNil(t, created)
	assert.NotEqual(t, "old-token", created.Token)
	assert.Equal(t, created.Token, resp.RefreshToken)
}

func TestRefreshRejectsRevokedToken(t *testing.T) {
	stored := &models.RefreshToken{
		ID:        "rt1",
		UserID:    "u1",
		Token:     "old-token",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
		Revoked:   true,
	}
	repo := &authRepoStub{
		findTokenFn: func(_ context.Context, _ string) (*models.RefreshToken, error) { return stored, nil },
	}
	svc := NewAuthService(repo, &identityRecorder{}, nil, nil, testAuthConfig())

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "old-token"})
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrCode(t, err))
}

func TestLogoutForeignTokenForbidden(t *testing.T) {
	stored := &models.RefreshToken{ID: "rt1", UserID: "someone-else", Token: "token"}
	repo := &authRepoStub{
		findTokenFn: func(_ context.Context, _ string) (*models.RefreshToken, error) { return stored, nil },
		revokeTokenFn: func(_ context.Context, _ string, _ time.Time) error {
			t.Fatal("a foreign token must not be revoked")
			return nil
		},
	}
	svc := NewAuthService(repo, &identityRecorder{}, nil, nil, testAuthConfig())

	err := svc.Logout(context.Background(), "token", "u1")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrCode(t, err))
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	user := authUser(t)
	var revokedUser string
	var newHash string
	repo := &authRepoStub{
		findByIDFn: func(_ context.Context, _ string) (*models.User, error) { return user, nil },
		updatePasswordFn: func(_ context.Context, _ string, passwordHash string, _ time.Time) error {
			newHash = passwordHash
			return nil
		},
		revokeAllFn: func(_ context.Context, userID string) error {
			revokedUser = userID
			return nil
		},
	}
	svc := NewAuthService(repo, &identityRecorder{}, nil, nil, testAuthConfig())

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{
		OldPassword: "correct horse",
		NewPassword: "battery staple",
	})
	require.NoError(t, err)

	assert.Equal(t, "u1", revokedUser)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(newHash), []byte("battery staple")))
}

func TestChangePasswordWrongOldPassword(t *testing.T) {
	user := authUser(t)
	repo := &authRepoStub{
		findByIDFn: func(_ context.Context, _ string) (*models.User, error) { return user, nil },
		updatePasswordFn: func(_ context.Context, _ string, _ string, _ time.Time) error {
			t.Fatal("the password must not change without the old one")
			return nil
		},
	}
	svc := NewAuthService(repo, &identityRecorder{}, nil, nil, testAuthConfig())

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{
		OldPassword: "wrong",
		NewPassword: "battery staple",
	})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrCode(t, err))
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc := NewAuthService(&authRepoStub{}, &identityRecorder{}, nil, nil, testAuthConfig())

	otherCfg := testAuthConfig()
	otherCfg.AccessTokenSecret = "other-secret"
	other := NewAuthService(&authRepoStub{}, &identityRecorder{}, nil, nil, otherCfg)

	user := authUser(t)
	repo := &authRepoStub{
		findByEmailFn: func(_ context.Context, _ string) (*models.User, error) { return user, nil },
	}
	issuer := NewAuthService(repo, &identityRecorder{}, nil, nil, testAuthConfig())
	resp, err := issuer.Login(context.Background(), models.LoginRequest{Email: "user@uni.example", Password: "correct horse"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(resp.AccessToken)
	assert.NoError(t, err)

	_, err = other.ValidateToken(resp.AccessToken)
	assert.Error(t, err)
}
