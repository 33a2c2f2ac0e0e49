package room

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/infrastructure/cache"
	"github.com/bmstu-itstech/bitbattle/pkg/validator"
)

// Словари для кодов комнат вида WORD-WORD-DDDD
var codeAdjectives = []string{
	"SWIFT", "BRAVE", "CLEVER", "MIGHTY", "RAPID", "SILENT", "GOLDEN", "CRIMSON",
	"FROZEN", "BLAZING", "SHADOW", "COSMIC", "TURBO", "QUANTUM", "IRON", "NEON",
}

var codeNouns = []string{
	"CODER", "TIGER", "FALCON", "WIZARD", "NINJA", "ROCKET", "PHOENIX", "BYTE",
	"PANDA", "VIPER", "KNIGHT", "COMET", "GOLEM", "RAVEN", "SPARK", "OTTER",
}

// GenerateCode возвращает случайный код комнаты
func GenerateCode() string {
	return fmt.Sprintf("%s-%s-%04d",
		codeAdjectives[rand.Intn(len(codeAdjectives))],
		codeNouns[rand.Intn(len(codeNouns))],
		rand.Intn(10000),
	)
}

// ValidCode проверяет код по формату протокола
func ValidCode(code string) bool {
	return validator.ValidateRoomCode(code) == nil
}

// codeReservationTTL держит код занятым дольше любой разумной партии
const codeReservationTTL = 24 * time.Hour

// CodeAllocator выдаёт коды, уникальные между экземплярами сервера: резерв
// кода - Redis distributed lock, освобождаемый вместе с комнатой. Без Redis
// уникальность обеспечивает только локальный реестр.
type CodeAllocator struct {
	lock *cache.DistributedLock

	mu     sync.Mutex
	tokens map[string]string // code -> lock token выданных этим процессом резервов
}

// NewCodeAllocator создаёт allocator; lock может быть nil
func NewCodeAllocator(lock *cache.DistributedLock) *CodeAllocator {
	return &CodeAllocator{
		lock:   lock,
		tokens: make(map[string]string),
	}
}

// Reserve пытается зарезервировать код; true - код наш
func (a *CodeAllocator) Reserve(ctx context.Context, code string) bool {
	if a == nil || a.lock == nil {
		return true
	}
	token, err := a.lock.Lock(ctx, "room-code:"+code, codeReservationTTL)
	if err != nil {
		return false
	}

	a.mu.Lock()
	a.tokens[code] = token
	a.mu.Unlock()
	return true
}

// Release освобождает резерв кода, когда комната отпущена; best-effort -
// невзятый или чужой резерв всё равно истечёт по TTL
func (a *CodeAllocator) Release(ctx context.Context, code string) {
	if a == nil || a.lock == nil {
		return
	}

	a.mu.Lock()
	token, ok := a.tokens[code]
	delete(a.tokens, code)
	a.mu.Unlock()
	if !ok {
		return
	}

	_ = a.lock.Unlock(ctx, "room-code:"+code, token)
}
