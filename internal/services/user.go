package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/digiclo/apiserver/internal/store"
	"github.com/digiclo/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrUsernameRequired   = errors.New("username is required")
	ErrBioTooLong         = fmt.Errorf("bio must be at most %d characters", types.MaxBioLength)
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateUsername(ctx context.Context, id, username string) (types.User, error)
	UpdateBio(ctx context.Context, id, bio string) (types.User, error)
	UpdatePhoto(ctx context.Context, id, photoURL string) (types.User, error)
}

// Registration is the input for creating an account.
type Registration struct {
	Email    string
	Password string
	Username string
	PhotoURL string
}

// UserService encapsulates account and profile use-cases.
type UserService struct {
	repo       UserRepository
	bcryptCost int
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo, bcryptCost: bcrypt.DefaultCost}
}

func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

// Register creates an account. Email and username must both be unused.
func (s *UserService) Register(ctx context.Context, reg Registration) (types.User, error) {
	reg.Email = strings.TrimSpace(reg.Email)
	reg.Username = strings.TrimSpace(reg.Username)
	if reg.Username == "" {
		return types.User{}, ErrUsernameRequired
	}

	if _, err := s.repo.GetByEmail(ctx, reg.Email); err == nil {
		return types.User{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, fmt.Errorf("check email: %w", err)
	}

	if _, err := s.repo.GetByUsername(ctx, reg.Username); err == nil {
		return types.User{}, ErrUsernameTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, fmt.Errorf("check username: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.bcryptCost)
	if err != nil {
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.repo.Create(ctx, types.User{
		Email:        reg.Email,
		Username:     reg.Username,
		PhotoURL:     strings.TrimSpace(reg.PhotoURL),
		PasswordHash: string(hashed),
	})
	if err != nil {
		// Lost a race with a concurrent signup; the unique index decides.
		switch {
		case errors.Is(err, store.ErrDuplicateUsername):
			return types.User{}, ErrUsernameTaken
		case errors.Is(err, store.ErrDuplicate):
			return types.User{}, ErrEmailTaken
		}
		return types.User{}, err
	}
	return user, nil
}

// Authenticate returns the user for a matching email and password. Unknown
// email and wrong password both yield ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (types.User, error) {
	user, err := s.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// UpdateUsername changes the user's handle. Re-submitting the current
// username is allowed.
func (s *UserService) UpdateUsername(ctx context.Context, userID, username string) (types.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return types.User{}, ErrUsernameRequired
	}

	existing, err := s.repo.GetByUsername(ctx, username)
	switch {
	case err == nil && existing.ID != userID:
		return types.User{}, ErrUsernameTaken
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return types.User{}, fmt.Errorf("check username: %w", err)
	}

	user, err := s.repo.UpdateUsername(ctx, userID, username)
	if errors.Is(err, store.ErrDuplicate) {
		return types.User{}, ErrUsernameTaken
	}
	return user, err
}

func (s *UserService) UpdateBio(ctx context.Context, userID, bio string) (types.User, error) {
	if utf8.RuneCountInString(bio) > types.MaxBioLength {
		return types.User{}, ErrBioTooLong
	}
	return s.repo.UpdateBio(ctx, userID, bio)
}

func (s *UserService) UpdatePhoto(ctx context.Context, userID, photoURL string) (types.User, error) {
	return s.repo.UpdatePhoto(ctx, userID, photoURL)
}
