// Package repair は連携途中で不整合になったカップルの修復ジョブを提供する。
//
// カップルの両メンバーがそのカップルを参照していない状態を検出し、
// 完了できる場合は連携を完了し、できない場合はカップルを削除して元に戻す。
// 存在しないカップルを参照しているユーザーは未連携に戻す。
// 何度実行しても結果は同じ（冪等）。
package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hitoshi/twogether/internal/metrics"
	"github.com/hitoshi/twogether/internal/model"
	"github.com/hitoshi/twogether/internal/repository"
	"github.com/hitoshi/twogether/internal/telemetry"
)

// DefaultBatchSize は1回の実行で処理するカップルの最大数。
const DefaultBatchSize = 100

// outcome はカップル1件の修復結果。
type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCompleted
	outcomeRolledBack
)

// errLostRace は行ロック中にもかかわらず条件付き更新が失敗した場合のエラー。
var errLostRace = errors.New("couple_id changed while locked")

// Result は1回の実行結果。
type Result struct {
	Completed       int
	RolledBack      int
	Failed          int
	ClearedDangling int64
}

// Job は不整合なカップルの修復ジョブ。
type Job struct {
	store     repository.RepairStore
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	BatchSize int
}

// NewJob は新しいJobを生成する。
func NewJob(store repository.RepairStore, m metrics.MetricsCollector, logger *slog.Logger) *Job {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		store:     store,
		metrics:   m,
		logger:    logger,
		BatchSize: DefaultBatchSize,
	}
}

// Run は不整合なカップルを最大BatchSize件修復し、その後ぶら下がった参照を解除する。
// 個々のカップルの修復失敗はログに記録して次に進む。
func (j *Job) Run(ctx context.Context) (*Result, error) {
	ctx, span := telemetry.Tracer("repair").Start(ctx, "repair.Run")
	defer span.End()

	start := time.Now()
	batch := j.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	ids, err := j.store.ListUnreconciledCoupleIDs(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("不整合なカップルの取得に失敗: %w", err)
	}

	res := &Result{}
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		out, err := j.repairCouple(ctx, id)
		if err != nil {
			res.Failed++
			j.logger.Error("カップルの修復に失敗しました",
				slog.String("couple_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		switch out {
		case outcomeCompleted:
			res.Completed++
		case outcomeRolledBack:
			res.RolledBack++
		}
	}

	cleared, err := j.store.ClearDanglingCoupleIDs(ctx)
	if err != nil {
		return res, fmt.Errorf("ぶら下がった参照の解除に失敗: %w", err)
	}
	res.ClearedDangling = cleared

	j.metrics.RecordRepair(res.Completed, res.RolledBack, res.ClearedDangling)
	span.SetAttributes(
		attribute.Int("repair.completed", res.Completed),
		attribute.Int("repair.rolled_back", res.RolledBack),
		attribute.Int64("repair.cleared", res.ClearedDangling),
	)

	j.logger.Info("修復ジョブが完了しました",
		slog.Int("scanned", len(ids)),
		slog.Int("completed", res.Completed),
		slog.Int("rolled_back", res.RolledBack),
		slog.Int("failed", res.Failed),
		slog.Int64("cleared_dangling", res.ClearedDangling),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	if len(ids) == batch {
		j.logger.Info("未処理のカップルが残っている可能性があります。次回の実行で処理します",
			slog.Int("batch_size", batch),
		)
	}

	return res, nil
}

// repairCouple はカップル1件を両メンバーの行をロックした上で修復する。
func (j *Job) repairCouple(ctx context.Context, coupleID string) (outcome, error) {
	result := outcomeSkipped
	err := j.store.WithinRepairTx(ctx, func(tx repository.RepairTx) error {
		c, err := tx.LockCouple(ctx, coupleID)
		if err != nil {
			return err
		}
		if c == nil {
			// 他の実行が先に削除した
			return nil
		}

		users, err := tx.LockUsers(ctx, c.MemberA, c.MemberB)
		if err != nil {
			return err
		}
		members := []*model.User{users[c.MemberA], users[c.MemberB]}

		if canComplete(c, members) {
			for _, u := range members {
				if u.CoupleID != nil && *u.CoupleID == c.ID {
					continue
				}
				ok, err := tx.SetCoupleIDIfUnlinked(ctx, u.ID, c.ID)
				if err != nil {
					return err
				}
				if !ok {
					return errLostRace
				}
			}
			result = outcomeCompleted
			j.logger.Info("カップルの連携を完了しました", slog.String("couple_id", c.ID))
			return nil
		}

		for _, uid := range c.MemberIDs() {
			if err := tx.ClearCoupleID(ctx, uid, c.ID); err != nil {
				return err
			}
		}
		if err := tx.DeleteCouple(ctx, c.ID); err != nil {
			return err
		}
		result = outcomeRolledBack
		j.logger.Info("完了できないカップルを削除しました", slog.String("couple_id", c.ID))
		return nil
	})
	if err != nil {
		return outcomeSkipped, err
	}
	return result, nil
}

// canComplete は両メンバーが存在し、いずれも未連携またはこのカップルを参照しているかを返す。
func canComplete(c *model.Couple, members []*model.User) bool {
	for _, u := range members {
		if u == nil {
			return false
		}
		if u.IsLinked() && *u.CoupleID != c.ID {
			return false
		}
	}
	return true
}
