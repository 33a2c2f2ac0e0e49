package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bmstu-itstech/bitbattle/pkg/errors"
)

// DistributedLock реализует distributed lock на Redis
type DistributedLock struct {
	cache *Cache
}

// NewDistributedLock создаёт новый distributed lock
func NewDistributedLock(cache *Cache) *DistributedLock {
	return &DistributedLock{
		cache: cache,
	}
}

// Lock пытается захватить блокировку
func (dl *DistributedLock) Lock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	// Генерируем уникальный token для этой блокировки
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}

	lockKey := fmt.Sprintf("lock:%s", key)

	// Пытаемся установить блокировку с помощью SETNX
	acquired, err := dl.cache.SetNX(ctx, lockKey, token, ttl)
	if err != nil {
		return "", fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !acquired {
		return "", errors.ErrConflict.WithMessage("lock already held")
	}

	return token, nil
}

// Unlock освобождает блокировку
func (dl *DistributedLock) Unlock(ctx context.Context, key string, token string) error {
	lockKey := fmt.Sprintf("lock:%s", key)

	// Проверяем, что token совпадает перед освобождением
	// Это предотвращает освобождение чужой блокировки
	currentToken, err := dl.cache.Get(ctx, lockKey)
	if err != nil {
		return fmt.Errorf("failed to get lock token: %w", err)
	}

	if currentToken == "" {
		// Блокировка уже освобождена или истекла
		return nil
	}

	if currentToken != token {
		return errors.ErrConflict.WithMessage("lock token mismatch")
	}

	// Удаляем блокировку
	if err := dl.cache.Del(ctx, lockKey); err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}

	return nil
}

// generateToken генерирует случайный токен для блокировки
func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
