// Package partner は2人のユーザーをカップルとして連携する処理を提供する。
//
// 連携はカップルの作成と両ユーザーのcouple_id設定を1つのトランザクションで行う。
// 前提条件（相手が存在する・自分ではない・双方とも未連携）はロック取得後の行に対して
// 判定し、couple_idの設定自体もcompare-and-swapで行うため、同じ相手への同時連携は
// 高々1件しか成功しない。
package partner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hitoshi/twogether/internal/account"
	"github.com/hitoshi/twogether/internal/metrics"
	"github.com/hitoshi/twogether/internal/model"
	"github.com/hitoshi/twogether/internal/repository"
	"github.com/hitoshi/twogether/internal/telemetry"
)

// LinkInput は連携リクエストの入力。
type LinkInput struct {
	PartnerEmail    string
	AnniversaryDate *time.Time // nilの場合は連携時刻
}

// LinkResult は連携の結果。
type LinkResult struct {
	RelationshipID string
	Linked         bool
}

// Linker はパートナー連携のサービス。
type Linker struct {
	store   repository.LinkStore
	metrics metrics.MetricsCollector
	now     func() time.Time
	newID   func() string
}

// NewLinker はLinkerを生成する。
func NewLinker(store repository.LinkStore, m metrics.MetricsCollector) *Linker {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Linker{
		store:   store,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
}

// WithClock はテスト用に時刻関数を差し替える。
func (l *Linker) WithClock(now func() time.Time) *Linker {
	l.now = now
	return l
}

// Link は呼び出し元と、メールアドレスで指定された相手を連携する。
// 業務ルール違反はAPIErrorをそのまま返し、ストレージエラーはLINK_FAILEDに変換する。
// LINK_FAILEDの場合トランザクションはロールバック済みで、再試行しても安全。
func (l *Linker) Link(ctx context.Context, callerUID string, in LinkInput) (*LinkResult, error) {
	ctx, span := telemetry.Tracer("partner").Start(ctx, "partner.Link")
	defer span.End()
	start := time.Now()

	result, err := l.link(ctx, callerUID, in)
	l.metrics.RecordLinkLatency(time.Since(start))

	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			slog.ErrorContext(ctx, "link transaction failed",
				slog.String("user_id", callerUID),
				slog.String("error", err.Error()),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, "link failed")
			apiErr = model.NewLinkFailedError()
		}
		span.SetAttributes(attribute.String("link.outcome", apiErr.Code))
		l.metrics.RecordLink(apiErr.Code)
		return nil, apiErr
	}

	span.SetAttributes(attribute.String("link.outcome", "linked"))
	l.metrics.RecordLink("linked")
	slog.InfoContext(ctx, "partner linked",
		slog.String("user_id", callerUID),
		slog.String("couple_id", result.RelationshipID),
	)
	return result, nil
}

func (l *Linker) link(ctx context.Context, callerUID string, in LinkInput) (*LinkResult, error) {
	// 1. 呼び出し元は認証ミドルウェアで検証済みであること
	if callerUID == "" {
		return nil, model.NewUnauthenticatedError()
	}

	// 2. メールアドレスの形式チェック
	email := strings.TrimSpace(in.PartnerEmail)
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return nil, model.NewInvalidRequestError("partnerEmail", err.Error())
	}
	normalized, err := account.NormalizeEmail(email)
	if err != nil {
		return nil, model.NewInvalidRequestError("partnerEmail", "must be a valid email address")
	}

	now := l.now()
	anniversary := now
	if in.AnniversaryDate != nil {
		anniversary = in.AnniversaryDate.UTC()
	}

	var coupleID string
	err = l.store.WithinTx(ctx, func(tx repository.LinkTx) error {
		// 3. 相手のプロフィールがちょうど1件存在すること
		matches, err := tx.FindUsersByEmailNormalized(ctx, normalized, 2)
		if err != nil {
			return fmt.Errorf("failed to look up partner: %w", err)
		}
		if len(matches) != 1 {
			return model.NewPartnerNotFoundError()
		}
		partnerUID := matches[0].ID

		// 4. 自分自身ではないこと
		if partnerUID == callerUID {
			return model.NewSelfLinkForbiddenError()
		}

		// 両者の行をID順にロックし、以降の判定はロック後の値で行う
		locked, err := tx.LockUsers(ctx, callerUID, partnerUID)
		if err != nil {
			return fmt.Errorf("failed to lock users: %w", err)
		}

		// 5. 相手が未連携であること
		partner, ok := locked[partnerUID]
		if !ok {
			return model.NewPartnerNotFoundError()
		}
		if partner.IsLinked() {
			return model.NewPartnerAlreadyLinkedError()
		}

		// 6. 自分が未連携であること
		caller, ok := locked[callerUID]
		if !ok {
			return model.NewProfileNotFoundError()
		}
		if caller.IsLinked() {
			return model.NewCallerAlreadyLinkedError()
		}

		couple := model.NewCouple(l.newID(), callerUID, partnerUID, anniversary, now)
		if err := tx.CreateCouple(ctx, couple); err != nil {
			return fmt.Errorf("failed to create couple: %w", err)
		}

		if ok, err := tx.SetCoupleIDIfUnlinked(ctx, partnerUID, couple.ID); err != nil {
			return fmt.Errorf("failed to link partner: %w", err)
		} else if !ok {
			return model.NewPartnerAlreadyLinkedError()
		}
		if ok, err := tx.SetCoupleIDIfUnlinked(ctx, callerUID, couple.ID); err != nil {
			return fmt.Errorf("failed to link caller: %w", err)
		} else if !ok {
			return model.NewCallerAlreadyLinkedError()
		}

		coupleID = couple.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &LinkResult{RelationshipID: coupleID, Linked: true}, nil
}
