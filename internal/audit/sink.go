package audit

/*
BatchSink — асинхронный экспорт записей цепочки во внешнее хранилище
(Postgres). Экспорт — форензика и долгосрочное хранение; для Verify
источником правды остается цепочка в RAM.

- Non-blocking: запись уходит в канал, Hot Path act() не ждет базу.
- Batching: накопление в памяти и Bulk Insert по таймеру или при 100 записях.
- Drain Pattern: при Stop() канал закрывается, воркер вычитывает остаток
  и делает финальный flush — записи при остановке не теряются.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Storage определяет, куда физически сохраняются записи.
type Storage interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, entries []Entry) error
}

type BatchSink struct {
	ch     chan Entry
	repo   Storage
	logger *zap.Logger
	wg     sync.WaitGroup

	flushEvery time.Duration
	batchSize  int

	// Защита от Log() после остановки (0 - открыт, 1 - закрыт)
	isClosed int32
}

func NewBatchSink(repo Storage, bufferSize int, flushEvery time.Duration, logger *zap.Logger) *BatchSink {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushEvery <= 0 {
		flushEvery = 500 * time.Millisecond
	}
	return &BatchSink{
		ch:         make(chan Entry, bufferSize),
		repo:       repo,
		logger:     logger.With(zap.String("mod", "audit-sink")),
		flushEvery: flushEvery,
		batchSize:  100,
	}
}

func (s *BatchSink) Start() {
	s.wg.Add(1)
	go s.worker()
}

// Stop запирает вход в канал и ждет, пока воркер допишет остаток.
func (s *BatchSink) Stop() {
	atomic.StoreInt32(&s.isClosed, 1)

	// Крошечная пауза, чтобы конкурентные Log успели проскочить до close
	time.Sleep(10 * time.Millisecond)

	s.logger.Info("stopping audit sink: closing channel and flushing buffer...")
	close(s.ch)
	s.wg.Wait()
	s.logger.Info("audit sink stopped gracefully")
}

// Log реализует Sink. При переполнении буфера — Load Shedding:
// запись остается в цепочке (RAM), теряется только экспорт, и это
// фиксируется в логе.
func (s *BatchSink) Log(e Entry) {
	if atomic.LoadInt32(&s.isClosed) == 1 {
		s.logger.Warn("audit export dropped: sink is stopping", zap.Int64("seq", e.Seq))
		return
	}

	select {
	case s.ch <- e:
	default:
		s.logger.Error("audit_export_buffer_overflow",
			zap.Int64("seq", e.Seq),
			zap.String("scope", e.Scope),
		)
	}
}

// Pending — заполненность буфера (для метрики backpressure).
func (s *BatchSink) Pending() int { return len(s.ch) }

func (s *BatchSink) worker() {
	defer s.wg.Done()

	batch := make([]Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к этому моменту может быть закрыт
		if err := s.repo.WriteBatch(context.Background(), batch); err != nil {
			s.logger.Error("audit export flush failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				// Закрытие канала в Stop() — самодостаточный сигнал:
				// сначала вычитали все из очереди, потом финальный flush
				flush()
				s.logger.Info("audit sink worker finished")
				return
			}
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
