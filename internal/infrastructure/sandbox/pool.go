package sandbox

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/bmstu-itstech/bitbattle/pkg/metrics"
)

// Pool - счётный семафор, ограничивающий число одновременных запусков песочницы.
// Ожидающие захвата обслуживаются в порядке поступления (FIFO очередь рантайма
// на канале); каждый ожидающий несёт дедлайн своего запроса через ctx.
type Pool struct {
	slots   chan struct{}
	inUse   atomic.Int32
	waiting atomic.Int32
	metrics *metrics.Metrics
}

// NewPool создаёт пул на capacity слотов
func NewPool(capacity int, m *metrics.Metrics) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	p := &Pool{
		slots:   make(chan struct{}, capacity),
		metrics: m,
	}
	for i := 0; i < capacity; i++ {
		p.slots <- struct{}{}
	}
	return p
}

// Acquire блокирует до получения слота или истечения ctx
func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case <-p.slots:
		p.inUse.Add(1)
		p.publish()
		return nil
	default:
	}

	p.waiting.Add(1)
	p.publish()
	defer func() {
		p.waiting.Add(-1)
		p.publish()
	}()

	select {
	case <-p.slots:
		p.inUse.Add(1)
		return nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return errors.ErrSandboxBusy.WithError(ctx.Err())
		}
		return ctx.Err()
	}
}

// Release возвращает слот в пул
func (p *Pool) Release() {
	p.inUse.Add(-1)
	p.publish()
	p.slots <- struct{}{}
}

// Capacity возвращает ёмкость пула
func (p *Pool) Capacity() int {
	return cap(p.slots)
}

// InUse возвращает число занятых слотов
func (p *Pool) InUse() int {
	return int(p.inUse.Load())
}

// Waiting возвращает глубину очереди ожидания
func (p *Pool) Waiting() int {
	return int(p.waiting.Load())
}

func (p *Pool) publish() {
	if p.metrics != nil {
		p.metrics.SetSandboxUsage(int(p.inUse.Load()), int(p.waiting.Load()))
	}
}

// Monitor периодически публикует метрики занятости, пока ctx жив
func (p *Pool) Monitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publish()
		}
	}
}
