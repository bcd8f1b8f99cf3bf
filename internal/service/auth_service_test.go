package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/exam-core-api/internal/models"
	appErrors "github.com/noah-isme/exam-core-api/pkg/errors"
)

type mockAuthRepo struct {
	users         map[string]*models.User
	refreshTokens map[string]*models.RefreshToken
	auditLogs     []models.AuditLog
}

func newMockAuthRepo() *mockAuthRepo {
	return &mockAuthRepo{
		users:         make(map[string]*models.User),
		refreshTokens: make(map[string]*models.RefreshToken),
	}
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if user, ok := m.users[id]; ok {
		user.LastLogin = &ts
	}
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	user, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = updatedAt
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	for _, token := range m.refreshTokens {
		if token.UserID == userID {
			token.Revoked = true
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	stored, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return stored, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, *log)
	return nil
}

func authFixture(t *testing.T, singleSession bool) (*AuthService, *mockAuthRepo) {
	t.Helper()
	repo := newMockAuthRepo()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	repo.users["user-1"] = &models.User{
		ID:           "user-1",
		Email:        "teacher@school.test",
		PasswordHash: string(hash),
		FullName:     "Test Teacher",
		Role:         models.RoleTeacher,
		Active:       true,
	}
	svc := NewAuthService(repo, nil, nil, AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "exam-core-api",
		SingleSession:      singleSession,
	})
	return svc, repo
}

func TestAuthLogin(t *testing.T) {
	svc, repo := authFixture(t, false)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "teacher@school.test",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, models.RoleTeacher, resp.User.Role)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleTeacher, claims.Role)

	require.NotEmpty(t, repo.auditLogs)
	assert.Equal(t, models.AuditActionLogin, repo.auditLogs[0].Action)
}

func TestAuthLoginRejectsBadCredentials(t *testing.T) {
	svc, repo := authFixture(t, false)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "teacher@school.test", Password: "wrong"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "nobody@school.test", Password: "whatever"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))

	repo.users["user-1"].Active = false
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "teacher@school.test", Password: "correct-horse"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInactiveAccount))
}

func TestAuthSingleSessionRevokesPrevious(t *testing.T) {
	svc, repo := authFixture(t, true)

	first, err := svc.Login(context.Background(), models.LoginRequest{Email: "teacher@school.test", Password: "correct-horse"})
	require.NoError(t, err)
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "teacher@school.test", Password: "correct-horse"})
	require.NoError(t, err)

	assert.True(t, repo.refreshTokens[first.RefreshToken].Revoked)
}

func TestAuthRefreshRotatesToken(t *testing.T) {
	svc, repo := authFixture(t, false)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "teacher@school.test", Password: "correct-horse"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	assert.True(t, repo.refreshTokens[login.RefreshToken].Revoked)

	// The used token cannot be replayed.
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestAuthLogout(t *testing.T) {
	svc, repo := authFixture(t, false)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "teacher@school.test", Password: "correct-horse"})
	require.NoError(t, err)

	err = svc.Logout(context.Background(), login.RefreshToken, "someone-else", models.LoginRequest{})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	require.NoError(t, svc.Logout(context.Background(), login.RefreshToken, "user-1", models.LoginRequest{}))
	assert.True(t, repo.refreshTokens[login.RefreshToken].Revoked)
}

func TestAuthChangePassword(t *testing.T) {
	svc, repo := authFixture(t, false)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "teacher@school.test", Password: "correct-horse"})
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{OldPassword: "wrong", NewPassword: "new-password-1"})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	require.NoError(t, svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{OldPassword: "correct-horse", NewPassword: "new-password-1"}))

	// Existing sessions are revoked and the new password works.
	assert.True(t, repo.refreshTokens[login.RefreshToken].Revoked)
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "teacher@school.test", Password: "new-password-1"})
	require.NoError(t, err)
}

func TestAuthValidateTokenRejectsForgery(t *testing.T) {
	svc, _ := authFixture(t, false)
	other := NewAuthService(newMockAuthRepo(), nil, nil, AuthConfig{
		AccessTokenSecret: "other-secret",
		AccessTokenExpiry: 15 * time.Minute,
	})

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "teacher@school.test", Password: "correct-horse"})
	require.NoError(t, err)

	_, err = other.ValidateToken(resp.AccessToken)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}
