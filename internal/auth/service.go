package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"library-backend/internal/models"
	"library-backend/internal/storage"
)

var ErrMissingFields = errors.New("all fields are required")

// Service registers accounts and exchanges credentials for tokens
type Service struct {
	db     storage.Storage
	issuer *Issuer
	logger *zap.Logger
}

// NewService creates an authentication service
func NewService(db storage.Storage, issuer *Issuer, logger *zap.Logger) *Service {
	return &Service{db: db, issuer: issuer, logger: logger}
}

// Issuer exposes the token issuer for request authentication
func (s *Service) Issuer() *Issuer {
	return s.issuer
}

// Register creates a member account
func (s *Service) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	return s.CreateUser(ctx, username, email, password, models.RoleMember)
}

// CreateUser creates an account with the given role
func (s *Service) CreateUser(ctx context.Context, username, email, password string, role models.Role) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return nil, ErrMissingFields
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		DateJoined:   time.Now(),
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("User registered", zap.Int64("user_id", user.ID), zap.String("username", user.Username), zap.String("role", string(role)))
	return user, nil
}

// Login checks credentials and issues a token pair
func (s *Service) Login(ctx context.Context, username, password string) (*TokenPair, *models.User, error) {
	user, err := s.db.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		s.logger.Warn("Failed login attempt", zap.String("username", username))
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issuer.IssuePair(user)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// Refresh issues a new access token from a refresh token
func (s *Service) Refresh(refreshToken string) (string, error) {
	return s.issuer.Refresh(refreshToken)
}

// Authenticate resolves an access token to its user
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*models.User, error) {
	claims, err := s.issuer.Parse(accessToken, TokenAccess)
	if err != nil {
		return nil, err
	}
	user, err := s.db.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}
