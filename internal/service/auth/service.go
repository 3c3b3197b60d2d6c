package auth

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/xiaohao/backend/internal/model/user"
	"github.com/zhouzirui/xiaohao/backend/pkg/log"
)

var (
	// ErrInvalidInput is returned when the username or password is empty or
	// the username cannot be used as a storage key.
	ErrInvalidInput = errors.New("invalid username or password")
	// ErrUsernameTaken is returned by Register when the username exists.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrRegistrationFailed is returned when the new user could not be persisted.
	ErrRegistrationFailed = errors.New("registration failed")
	// ErrInvalidCredentials covers both unknown users and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}_-][\p{L}\p{N}_.-]{0,63}$`)

// Store is the subset of storage the user manager needs.
type Store interface {
	SaveUser(u *user.User) bool
	LoadUser(username string) (*user.User, bool)
	UserExists(username string) bool
}

// Service registers and authenticates users.
type Service struct {
	store  Store
	now    func() time.Time
	verify func(password, encoded string) (bool, error)
}

// NewService constructs the user manager over store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now, verify: VerifyPassword}
}

// ValidUsername reports whether username is acceptable as an account key.
func ValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// Register creates a user and returns its id.
func (s *Service) Register(_ context.Context, username, password string) (string, error) {
	if password == "" || !ValidUsername(username) {
		return "", ErrInvalidInput
	}

	if s.store.UserExists(username) {
		log.Infow("[auth] registration rejected, username taken", "username", username)
		return "", ErrUsernameTaken
	}

	credential, err := HashPassword(password)
	if err != nil {
		log.Error("[auth] failed to hash password", err)
		return "", ErrRegistrationFailed
	}

	u := &user.User{
		ID:                 uuid.NewString(),
		Username:           username,
		PasswordCredential: credential,
		CreatedAt:          s.now().UTC(),
	}
	if !s.store.SaveUser(u) {
		log.Errorw("[auth] failed to persist new user", "username", username)
		return "", ErrRegistrationFailed
	}

	log.Infow("[auth] user registered", "username", username, "userID", u.ID)
	return u.ID, nil
}

// Authenticate returns the user id when the password matches. Unknown users
// and wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Authenticate(_ context.Context, username, password string) (string, error) {
	u, ok := s.store.LoadUser(username)
	if !ok {
		_, _ = s.verify(password, dummyCredential)
		log.Infow("[auth] login failed, no such user", "username", username)
		return "", ErrInvalidCredentials
	}

	match, err := s.verify(password, u.PasswordCredential)
	if err != nil {
		log.Errorw("[auth] stored credential unreadable", "username", username, "error", err)
		return "", ErrInvalidCredentials
	}
	if !match {
		log.Infow("[auth] login failed, wrong password", "username", username)
		return "", ErrInvalidCredentials
	}

	log.Infow("[auth] user authenticated", "username", username)
	return u.ID, nil
}
