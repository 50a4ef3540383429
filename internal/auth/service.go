package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vovakirdan/dmchat-server/internal/store"
	"github.com/vovakirdan/dmchat-server/internal/utils"
)

var (
	// ErrInvalidCredentials is returned when email/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when the username or email is already registered.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidEmail is returned when email cannot be parsed.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrUnauthenticated is returned when a token does not map to a live user.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

var validate = validator.New()

type registration struct {
	Username string `validate:"min=3,max=32,excludes=:"`
	Email    string `validate:"required,email"`
	Password string `validate:"min=6"`
}

// Service issues and validates bearer tokens on top of the user store.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
	}
}

// Register creates a user and returns it with a fresh token.
func (s *Service) Register(ctx context.Context, username, email, password string) (*store.User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validateRegistration(registration{Username: username, Email: email, Password: password}); err != nil {
		return nil, "", err
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	user := &store.User{
		ID:           utils.NewID(),
		Username:     username,
		Email:        email,
		PasswordHash: hashed,
		Avatar:       store.DefaultAvatar,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, "", ErrUserExists
		}
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}
	return user, token, nil
}

func validateRegistration(r registration) error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "Username":
				return ErrInvalidUsername
			case "Email":
				return ErrInvalidEmail
			case "Password":
				return ErrInvalidPassword
			}
		}
		return err
	}
	if len(r.Password) > maxPasswordBytes {
		return ErrInvalidPassword
	}
	return nil
}

// Login validates credentials and returns the user with a token.
func (s *Service) Login(ctx context.Context, email, password string) (*store.User, string, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("lookup user: %w", err)
	}

	if errPwd := ComparePassword(user.PasswordHash, password); errPwd != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}
	return user, token, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

// Authenticate validates the token and loads the user it names.
// A valid token for a deleted user is rejected.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*store.User, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}
