package service

import (
	"context"
	"sync"
	"time"

	"github.com/SergeiKhy/shortener/internal/repository"
	"go.uber.org/zap"
)

// Интервал слива дельт по умолчанию
const defaultSyncInterval = 30 * time.Second

// ClickSyncer фоновый воркер: периодически забирает накопленные кэшем
// дельты кликов и доливает их в основное хранилище батчами.
// Если долить не удалось, дельта возвращается в кэш и будет учтена
// на чтении статистики.
type ClickSyncer struct {
	cache    repository.CacheRepository
	batcher  repository.ClickBatcher
	logger   *zap.Logger
	interval time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClickSyncer создаёт синхронизатор. interval <= 0 — интервал по умолчанию.
func NewClickSyncer(
	cache repository.CacheRepository,
	batcher repository.ClickBatcher,
	logger *zap.Logger,
	interval time.Duration,
) *ClickSyncer {
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	return &ClickSyncer{
		cache:    cache,
		batcher:  batcher,
		logger:   logger,
		interval: interval,
	}
}

// Start запускает фоновый цикл синхронизации
func (s *ClickSyncer) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.logger.Info("Запуск синхронизатора кликов", zap.Duration("interval", s.interval))

	s.wg.Add(1)
	go s.loop()
}

// Stop останавливает цикл и делает финальный слив
func (s *ClickSyncer) Stop() {
	s.logger.Info("Остановка синхронизатора кликов...")
	s.cancel()
	s.wg.Wait()

	// Финальный слив с отдельным таймаутом: s.ctx уже отменён
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.drain(ctx)

	s.logger.Info("Синхронизатор кликов остановлен")
}

func (s *ClickSyncer) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.drain(s.ctx)
		}
	}
}

// drain забирает дельты всех «грязных» кодов и доливает их в хранилище
func (s *ClickSyncer) drain(ctx context.Context) {
	for _, code := range s.cache.DirtyCodes(ctx) {
		delta := s.cache.TakeClickDelta(ctx, code)
		if delta == 0 {
			continue
		}

		if err := s.batcher.AddClicks(ctx, code, delta); err != nil {
			// Возвращаем дельту, чтобы клики не потерялись
			s.cache.IncrClicksBy(ctx, code, delta)
			s.logger.Warn("Не удалось долить клики, дельта возвращена в кэш",
				zap.String("short_code", code),
				zap.Int64("delta", delta),
				zap.Error(err),
			)
			continue
		}

		s.logger.Debug("Клики долиты в хранилище",
			zap.String("short_code", code),
			zap.Int64("delta", delta),
		)
	}
}
