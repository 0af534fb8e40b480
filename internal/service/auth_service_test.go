package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ilyes-bd/presence-api/internal/models"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
)

type fakeAuthRepo struct {
	users   map[string]*models.User
	byEmail map[string]*models.User
	tokens  map[string]*models.RefreshToken

	auditLogs     []*models.AuditLog
	lastLoginAt   *time.Time
	revokeAllHits int
}

func newFakeAuthRepo(users ...*models.User) *fakeAuthRepo {
	r := &fakeAuthRepo{
		users:   make(map[string]*models.User),
		byEmail: make(map[string]*models.User),
		tokens:  make(map[string]*models.RefreshToken),
	}
	for _, u := range users {
		r.users[u.ID] = u
		r.byEmail[u.Email] = u
	}
	return r
}

func (r *fakeAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := r.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (r *fakeAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (r *fakeAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	r.lastLoginAt = &ts
	return nil
}

func (r *fakeAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if user, ok := r.users[id]; ok {
		user.PasswordHash = passwordHash
	}
	return nil
}

func (r *fakeAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	r.revokeAllHits++
	for _, token := range r.tokens {
		if token.UserID == userID {
			token.Revoked = true
		}
	}
	return nil
}

func (r *fakeAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	r.tokens[token.Token] = token
	return nil
}

func (r *fakeAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	stored, ok := r.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return stored, nil
}

func (r *fakeAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range r.tokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (r *fakeAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.auditLogs = append(r.auditLogs, log)
	return nil
}

func (r *fakeAuthRepo) auditActions() []models.AuditAction {
	actions := make([]models.AuditAction, 0, len(r.auditLogs))
	for _, log := range r.auditLogs {
		actions = append(actions, log.Action)
	}
	return actions
}

func hashOf(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newTestAuthService(repo *fakeAuthRepo, mail *captureMailer, cfg AuthConfig) *AuthService {
	if cfg.AccessTokenSecret == "" {
		cfg.AccessTokenSecret = "test-secret"
	}
	if cfg.AccessTokenExpiry == 0 {
		cfg.AccessTokenExpiry = time.Hour
	}
	if cfg.RefreshTokenExpiry == 0 {
		cfg.RefreshTokenExpiry = 24 * time.Hour
	}
	if mail == nil {
		mail = &captureMailer{}
	}
	return NewAuthService(repo, mail, nil, zap.NewNop(), cfg)
}

func activeUser(t *testing.T, id, email, password string) *models.User {
	t.Helper()
	return &models.User{
		ID:           id,
		Email:        email,
		FullName:     "Test User",
		PasswordHash: hashOf(t, password),
		Active:       true,
		Role:         models.RoleAdmin,
	}
}

func TestAuthServiceLoginIssuesTokens(t *testing.T) {
	user := activeUser(t, "u1", "admin@example.com", "password")
	repo := newFakeAuthRepo(user)
	svc := newTestAuthService(repo, nil, AuthConfig{})

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "password"})
	require.NoError(t, err)

	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.EqualValues(t, 3600, res.ExpiresIn)
	assert.Equal(t, user.ID, res.User.ID)
	assert.NotNil(t, repo.lastLoginAt)
	assert.Contains(t, repo.tokens, res.RefreshToken)
	assert.Contains(t, repo.auditActions(), models.AuditActionLogin)
}

func TestAuthServiceLoginRejections(t *testing.T) {
	cases := []struct {
		name     string
		user     *models.User
		req      models.LoginRequest
		wantCode string
	}{
		{
			name:     "unknown email",
			user:     activeUser(t, "u1", "admin@example.com", "password"),
			req:      models.LoginRequest{Email: "nobody@example.com", Password: "password"},
			wantCode: appErrors.ErrInvalidCredentials.Code,
		},
		{
			name:     "wrong password",
			user:     activeUser(t, "u1", "admin@example.com", "password"),
			req:      models.LoginRequest{Email: "admin@example.com", Password: "nope"},
			wantCode: appErrors.ErrInvalidCredentials.Code,
		},
		{
			name: "inactive account",
			user: func() *models.User {
				u := activeUser(t, "u1", "admin@example.com", "password")
				u.Active = false
				return u
			}(),
			req:      models.LoginRequest{Email: "admin@example.com", Password: "password"},
			wantCode: appErrors.ErrInactiveAccount.Code,
		},
		{
			name:     "missing email",
			user:     activeUser(t, "u1", "admin@example.com", "password"),
			req:      models.LoginRequest{Password: "password"},
			wantCode: appErrors.ErrValidation.Code,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestAuthService(newFakeAuthRepo(tc.user), nil, AuthConfig{})
			_, err := svc.Login(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.wantCode, appErrors.FromError(err).Code)
		})
	}
}

func TestAuthServiceLoginSingleSessionRevokesOthers(t *testing.T) {
	user := activeUser(t, "u1", "admin@example.com", "password")
	repo := newFakeAuthRepo(user)
	repo.tokens["stale"] = &models.RefreshToken{ID: "rt0", UserID: user.ID, Token: "stale", ExpiresAt: time.Now().Add(time.Hour)}
	svc := newTestAuthService(repo, nil, AuthConfig{SingleSession: true})

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "password"})
	require.NoError(t, err)

	assert.Equal(t, 1, repo.revokeAllHits)
	assert.True(t, repo.tokens["stale"].Revoked)
	assert.False(t, repo.tokens[res.RefreshToken].Revoked)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	user := activeUser(t, "u1", "admin@example.com", "password")
	repo := newFakeAuthRepo(user)
	repo.tokens["current"] = &models.RefreshToken{ID: "rt1", UserID: user.ID, Token: "current", ExpiresAt: time.Now().Add(time.Hour)}
	svc := newTestAuthService(repo, nil, AuthConfig{})

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "current"})
	require.NoError(t, err)

	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, "current", res.RefreshToken)
	assert.True(t, repo.tokens["current"].Revoked)
	assert.False(t, repo.tokens[res.RefreshToken].Revoked)
}

func TestAuthServiceRefreshRejectsUnusable(t *testing.T) {
	user := activeUser(t, "u1", "admin@example.com", "password")

	cases := []struct {
		name     string
		token    *models.RefreshToken
		wantCode string
	}{
		{
			name:     "unknown token",
			token:    nil,
			wantCode: appErrors.ErrUnauthorized.Code,
		},
		{
			name:     "expired token",
			token:    &models.RefreshToken{ID: "rt1", UserID: user.ID, Token: "t", ExpiresAt: time.Now().Add(-time.Minute)},
			wantCode: appErrors.ErrUnauthorized.Code,
		},
		{
			name:     "revoked token",
			token:    &models.RefreshToken{ID: "rt1", UserID: user.ID, Token: "t", ExpiresAt: time.Now().Add(time.Hour), Revoked: true},
			wantCode: appErrors.ErrUnauthorized.Code,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFakeAuthRepo(user)
			if tc.token != nil {
				repo.tokens[tc.token.Token] = tc.token
			}
			svc := newTestAuthService(repo, nil, AuthConfig{})
			_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "t"})
			require.Error(t, err)
			assert.Equal(t, tc.wantCode, appErrors.FromError(err).Code)
		})
	}
}

func TestAuthServiceLogout(t *testing.T) {
	user := activeUser(t, "u1", "admin@example.com", "password")
	repo := newFakeAuthRepo(user)
	repo.tokens["session"] = &models.RefreshToken{ID: "rt1", UserID: user.ID, Token: "session", ExpiresAt: time.Now().Add(time.Hour)}
	svc := newTestAuthService(repo, nil, AuthConfig{})

	err := svc.Logout(context.Background(), "someone-else", "session", "", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.Logout(context.Background(), user.ID, "session", "", ""))
	assert.True(t, repo.tokens["session"].Revoked)
	assert.Contains(t, repo.auditActions(), models.AuditActionLogout)
}

func TestAuthServiceChangePassword(t *testing.T) {
	user := activeUser(t, "u1", "admin@example.com", "original")
	repo := newFakeAuthRepo(user)
	svc := newTestAuthService(repo, nil, AuthConfig{})

	err := svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{OldPassword: "wrong", NewPassword: "replacement"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{OldPassword: "original", NewPassword: "replacement"}))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("replacement")))
	assert.Equal(t, 1, repo.revokeAllHits)
	assert.Contains(t, repo.auditActions(), models.AuditActionPasswordChange)
}

func TestAuthServiceValidateToken(t *testing.T) {
	user := activeUser(t, "u1", "admin@example.com", "password")
	svc := newTestAuthService(newFakeAuthRepo(user), nil, AuthConfig{})

	token, err := svc.signAccessToken(user, time.Now().UTC())
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	other := newTestAuthService(newFakeAuthRepo(user), nil, AuthConfig{AccessTokenSecret: "different"})
	_, err = other.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateTokenExpired(t *testing.T) {
	user := activeUser(t, "u1", "admin@example.com", "password")
	svc := newTestAuthService(newFakeAuthRepo(user), nil, AuthConfig{})

	token, err := svc.signAccessToken(user, time.Now().UTC().Add(-2*time.Hour))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServicePasswordResetFlow(t *testing.T) {
	user := activeUser(t, "u1", "student@example.com", "original")
	repo := newFakeAuthRepo(user)
	mail := &captureMailer{}
	svc := newTestAuthService(repo, mail, AuthConfig{ResetTokenExpiry: time.Hour})

	require.NoError(t, svc.ForgotPassword(context.Background(), models.ResetPasswordRequest{Email: user.Email}))
	require.Len(t, mail.messages, 1)
	assert.Equal(t, user.Email, mail.messages[0].ToEmail)

	token := mailedResetToken(t, mail.messages[0].Text)
	require.NoError(t, svc.ResetPassword(context.Background(), models.ConfirmResetPasswordRequest{Token: token, NewPassword: "replacement"}))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("replacement")))
	assert.Equal(t, 1, repo.revokeAllHits)

	// the token is bound to the old hash, so it cannot be replayed
	err := svc.ResetPassword(context.Background(), models.ConfirmResetPasswordRequest{Token: token, NewPassword: "again"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceForgotPasswordUnknownEmail(t *testing.T) {
	repo := newFakeAuthRepo()
	mail := &captureMailer{}
	svc := newTestAuthService(repo, mail, AuthConfig{})

	require.NoError(t, svc.ForgotPassword(context.Background(), models.ResetPasswordRequest{Email: "ghost@example.com"}))
	assert.Empty(t, mail.messages)
}

func TestAuthServiceResetTokenRejections(t *testing.T) {
	user := activeUser(t, "u1", "student@example.com", "original")
	repo := newFakeAuthRepo(user)
	svc := newTestAuthService(repo, nil, AuthConfig{ResetTokenExpiry: time.Hour})

	ghost := activeUser(t, "ghost", "ghost@example.com", "x")

	cases := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "expired", token: svc.resetToken(user, time.Now().UTC().Add(-time.Minute))},
		{name: "unknown user", token: svc.resetToken(ghost, time.Now().UTC().Add(time.Hour))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.ResetPassword(context.Background(), models.ConfirmResetPasswordRequest{Token: tc.token, NewPassword: "replacement"})
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
		})
	}
}

func mailedResetToken(t *testing.T, text string) string {
	t.Helper()
	const marker = "Reset token: "
	start := strings.Index(text, marker)
	require.NotEqual(t, -1, start)
	rest := text[start+len(marker):]
	end := strings.IndexByte(rest, '\n')
	require.NotEqual(t, -1, end)
	return rest[:end]
}
