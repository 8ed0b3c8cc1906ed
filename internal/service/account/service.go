package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/healthchat/backend/internal/model/chat"
	chatservice "github.com/healthchat/backend/internal/service/chat"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const minPasswordLength = 6

// Store is the slice of persistence the account service needs.
type Store interface {
	CreateUser(ctx context.Context, user chat.User) (chat.User, error)
	FindUserByEmail(ctx context.Context, email string) (chat.User, error)
}

// TokenIssuer signs bearer credentials.
type TokenIssuer interface {
	Issue(userID, email string) (string, error)
}

// Result is returned by Register and Login.
type Result struct {
	User  chat.User `json:"user"`
	Token string    `json:"token"`
}

// Service handles registration and login.
type Service struct {
	store  Store
	tokens TokenIssuer
	cost   int
}

// NewService creates an account service. cost is the bcrypt work factor;
// values out of bcrypt's range fall back to bcrypt.DefaultCost.
func NewService(store Store, tokens TokenIssuer, cost int) *Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{store: store, tokens: tokens, cost: cost}
}

// Register creates an account and signs a token for it.
func (s *Service) Register(ctx context.Context, name, email, password string) (Result, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if err := validateRegistration(name, email, password); err != nil {
		return Result{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Result{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, chat.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
	})
	if err != nil {
		return Result{}, err
	}

	return s.issue(user)
}

// Login verifies a password and signs a fresh token.
func (s *Service) Login(ctx context.Context, email, password string) (Result, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return Result{}, err
	}
	if len(password) < minPasswordLength {
		return Result{}, fmt.Errorf("%w: password must be at least %d characters", chat.ErrValidation, minPasswordLength)
	}

	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return Result{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return Result{}, ErrInvalidCredentials
	}

	return s.issue(user)
}

func (s *Service) issue(user chat.User) (Result, error) {
	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return Result{}, err
	}
	user.PasswordHash = ""
	return Result{User: user, Token: token}, nil
}

func validateRegistration(name, email, password string) error {
	if n := utf8.RuneCountInString(name); n < 1 || n > 100 {
		return fmt.Errorf("%w: name must be between 1 and 100 characters", chat.ErrValidation)
	}
	if err := validateEmail(email); err != nil {
		return err
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", chat.ErrValidation, minPasswordLength)
	}
	return nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: email is invalid", chat.ErrValidation)
	}
	return nil
}

// IsConflict reports whether err means the email is already registered.
func IsConflict(err error) bool {
	return errors.Is(err, chatservice.ErrEmailTaken)
}
