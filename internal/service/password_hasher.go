package service

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// maxPasswordBytes es el límite de entrada de bcrypt.
const maxPasswordBytes = 72

// PasswordHasher abstrae el algoritmo de hashing de contraseñas.
// Verify devuelve error solo si ctx se cancela; un digest inválido es simplemente false.
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, digest string) (bool, error)
}

// BcryptHasher implementa PasswordHasher con bcrypt, limitando cuántos
// cálculos corren a la vez.
type BcryptHasher struct {
	cost int
	sem  *semaphore.Weighted
}

// NewBcryptHasher crea un hasher con el costo y la cantidad de workers dados.
func NewBcryptHasher(cost, workers int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if workers <= 0 {
		workers = 1
	}
	return &BcryptHasher{
		cost: cost,
		sem:  semaphore.NewWeighted(int64(workers)),
	}
}

func (h *BcryptHasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHashingUnavailable, err)
	}
	return string(digest), nil
}

func (h *BcryptHasher) Verify(ctx context.Context, password, digest string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.sem.Release(1)

	// Un digest corrupto o de otro algoritmo cuenta como no coincidente.
	// bcrypt trunca en 72 bytes al comparar; nada más largo pudo haberse registrado.
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
	return err == nil && len(password) <= maxPasswordBytes, nil
}
