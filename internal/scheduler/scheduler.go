// Package scheduler периодически сверяет кэш координат исполнителей с хранилищем.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reconciler пересобирает производный индекс из хранилища.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// Scheduler запускает Reconciler по cron-расписанию.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	spec       string
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// New создаёт планировщик с расписанием spec, например "@every 10m".
func New(r Reconciler, spec string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		reconciler: r,
		spec:       spec,
		logger:     logger,
	}
}

// Start регистрирует задачу и запускает планировщик.
// Первая сверка выполняется сразу, не дожидаясь срабатывания расписания.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("cron add func %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("geo reconcile scheduler started", zap.String("spec", s.spec))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	return nil
}

// Stop останавливает планировщик и ждёт завершения выполняющихся сверок.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("geo reconcile scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.reconciler.Reconcile(ctx); err != nil {
		s.logger.Warn("geo reconcile failed", zap.Error(err))
		return
	}
	s.logger.Debug("geo reconcile done")
}
