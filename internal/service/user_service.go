package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"movie-auth/internal/domain"
	"movie-auth/internal/repository"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicateEmail     = errors.New("duplicate email")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrHashingUnavailable = errors.New("hashing unavailable")
	ErrStoreUnavailable   = errors.New("store unavailable")

	ErrPasswordTooLong = fmt.Errorf("%w: password exceeds %d bytes", ErrInvalidInput, maxPasswordBytes)
)

// dummyPassword solo alimenta el digest usado para igualar tiempos en login.
const dummyPassword = "movie-auth-timing-equalizer"

// UserService coordina registro y login de usuarios.
type UserService struct {
	logger *zap.Logger
	users  repository.UserRepository
	hasher PasswordHasher
	emails EmailCache

	// dummyDigest se verifica cuando el email no existe, así ambos rechazos
	// cuestan una comparación bcrypt.
	dummyDigest string
}

// NewUserService arma el servicio y precalcula el digest de igualación de
// tiempos. emails puede ser nil.
func NewUserService(logger *zap.Logger, users repository.UserRepository, hasher PasswordHasher, emails EmailCache) (*UserService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if users == nil || hasher == nil {
		return nil, errors.New("user service requires a user repository and a password hasher")
	}
	digest, err := hasher.Hash(context.Background(), dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("timing digest: %w", err)
	}
	return &UserService{
		logger:      logger,
		users:       users,
		hasher:      hasher,
		emails:      emails,
		dummyDigest: digest,
	}, nil
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Register valida, hashea y persiste un usuario nuevo.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (domain.PublicUser, error) {
	name := strings.TrimSpace(input.Name)
	email := strings.TrimSpace(input.Email)
	if name == "" || email == "" || input.Password == "" {
		return domain.PublicUser{}, ErrInvalidInput
	}
	if len(input.Password) > maxPasswordBytes {
		return domain.PublicUser{}, ErrPasswordTooLong
	}

	hinted := s.emailSeen(ctx, email)
	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if !hinted {
			s.rememberEmail(ctx, email)
		}
		s.logger.Info("registration rejected: email already registered", zap.String("email", email))
		return domain.PublicUser{}, ErrDuplicateEmail
	case !errors.Is(err, repository.ErrUserNotFound):
		return domain.PublicUser{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	case hinted:
		// El store no tiene el usuario: la marca quedó de otro store o de datos perdidos.
		s.logger.Warn("stale email cache entry dropped", zap.String("email", email))
		s.forgetEmail(ctx, email)
	}

	digest, err := s.hasher.Hash(ctx, input.Password)
	if err != nil {
		return domain.PublicUser{}, err
	}

	user, err := s.users.Create(ctx, domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: digest,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			s.logger.Info("registration lost race on email", zap.String("email", email))
			s.rememberEmail(ctx, email)
			return domain.PublicUser{}, ErrDuplicateEmail
		}
		return domain.PublicUser{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.rememberEmail(ctx, email)
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user.Public(), nil
}

// Login verifica email y password. Email desconocido y password incorrecto
// devuelven el mismo error y cuestan lo mismo.
func (s *UserService) Login(ctx context.Context, email, password string) (domain.PublicUser, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.PublicUser{}, ErrInvalidInput
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return domain.PublicUser{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if _, verr := s.hasher.Verify(ctx, password, s.dummyDigest); verr != nil {
			return domain.PublicUser{}, verr
		}
		s.logger.Info("login rejected", zap.String("email", email))
		return domain.PublicUser{}, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		return domain.PublicUser{}, err
	}
	if !ok {
		s.logger.Info("login rejected", zap.String("email", email))
		return domain.PublicUser{}, ErrInvalidCredentials
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID))
	return user.Public(), nil
}

// Ready informa si el store responde.
func (s *UserService) Ready(ctx context.Context) error {
	return s.users.Ping(ctx)
}

func (s *UserService) emailSeen(ctx context.Context, email string) bool {
	if s.emails == nil {
		return false
	}
	seen, err := s.emails.Seen(ctx, email)
	if err != nil {
		s.logger.Warn("email cache lookup failed", zap.Error(err))
		return false
	}
	return seen
}

func (s *UserService) rememberEmail(ctx context.Context, email string) {
	if s.emails == nil {
		return
	}
	if err := s.emails.Remember(ctx, email); err != nil {
		s.logger.Warn("email cache write failed", zap.Error(err))
	}
}

func (s *UserService) forgetEmail(ctx context.Context, email string) {
	if err := s.emails.Forget(ctx, email); err != nil {
		s.logger.Warn("email cache delete failed", zap.Error(err))
	}
}
