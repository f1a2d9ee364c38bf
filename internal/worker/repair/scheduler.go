package repair

import (
	"context"
	"log/slog"
	"time"
)

// Runner は修復ジョブの実行インターフェース。
type Runner interface {
	Run(ctx context.Context) (*Result, error)
}

// Scheduler は修復ジョブを一定間隔で実行する。
type Scheduler struct {
	job    Runner
	logger *slog.Logger
}

// NewScheduler はSchedulerを生成する。
func NewScheduler(job Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{job: job, logger: logger}
}

// Start は起動直後に1回、その後interval間隔で修復ジョブを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("修復スケジューラを開始しました", slog.Duration("interval", interval))

	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("修復スケジューラを停止しました")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.job.Run(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("修復ジョブの実行に失敗しました", slog.String("error", err.Error()))
	}
}
