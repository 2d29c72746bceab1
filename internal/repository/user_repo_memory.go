package repository

import (
	"context"
	"sync"

	"movie-auth/internal/domain"
)

// MemoryUserRepository guarda usuarios en memoria. El chequeo de unicidad y
// la inserción ocurren bajo el mismo lock.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byEmail map[string]domain.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byEmail: make(map[string]domain.User),
	}
}

func (r *MemoryUserRepository) Create(ctx context.Context, user domain.User) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[user.Email]; exists {
		return domain.User{}, ErrDuplicateEmail
	}
	user = stampNew(user)
	r.byEmail[user.Email] = user
	return user, nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byEmail[email]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *MemoryUserRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Count devuelve cuántos usuarios hay almacenados.
func (r *MemoryUserRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byEmail)
}
