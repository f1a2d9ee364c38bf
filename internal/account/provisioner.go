// Package account はログイン時のプロフィール作成・更新を提供する。
package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hitoshi/twogether/internal/metrics"
	"github.com/hitoshi/twogether/internal/model"
	"github.com/hitoshi/twogether/internal/repository"
	"github.com/hitoshi/twogether/internal/security"
	"github.com/hitoshi/twogether/internal/telemetry"
)

// Result はプロビジョニングの結果。
type Result string

const (
	ResultCreated Result = "created"
	ResultUpdated Result = "updated"
)

// 表示用フィールドの上限。超えた値はリクエストを失敗させずに切り詰めるかNULLにする。
const (
	maxDisplayNameRunes = 100
	maxEmailLength      = 320
	maxAvatarRefLength  = 2048
)

// ProfileInput はクライアントが申告するプロフィール情報。
// DisplayName・Email・AvatarRefは表示用で、nilの場合はNULLとして保存する。
type ProfileInput struct {
	DisplayName *string
	Email       *string
	AvatarRef   *string
	// VerifiedEmail はIDトークンの確認済みメールアドレス。
	// Emailがこれと一致する場合のみ、パートナー検索の対象になる。
	VerifiedEmail string
}

// AvatarValidator はプロフィール画像URLの検証インターフェース。
type AvatarValidator interface {
	ValidateAvatarRef(rawURL string) error
}

// Provisioner はログインのたびにプロフィールを作成または更新する。
type Provisioner struct {
	users     repository.UserRepository
	sanitizer security.TextSanitizer
	avatars   AvatarValidator
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewProvisioner はProvisionerを生成する。
func NewProvisioner(
	users repository.UserRepository,
	sanitizer security.TextSanitizer,
	avatars AvatarValidator,
	m metrics.MetricsCollector,
) *Provisioner {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Provisioner{
		users:     users,
		sanitizer: sanitizer,
		avatars:   avatars,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock はテスト用に時刻関数を差し替える。
func (p *Provisioner) WithClock(now func() time.Time) *Provisioner {
	p.now = now
	return p
}

// Provision は検証済みUIDのプロフィールを作成または更新する。
// 既存プロフィールの表示用フィールドは全置換し、couple_idには触れない。
// ストレージエラーはPROVISIONING_FAILEDとして返し、詳細はログにのみ残す。
func (p *Provisioner) Provision(ctx context.Context, uid string, in ProfileInput) (Result, error) {
	ctx, span := telemetry.Tracer("account").Start(ctx, "account.Provision")
	defer span.End()

	if uid == "" {
		return "", model.NewUnauthenticatedError()
	}

	now := p.now()
	user := &model.User{
		ID:          uid,
		DisplayName: p.cleanDisplayName(in.DisplayName),
		Email:       cleanEmail(ctx, uid, in.Email),
		AvatarRef:   p.cleanAvatarRef(ctx, uid, in.AvatarRef),
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	user.EmailNormalized = discoveryKey(ctx, uid, user.Email, in.VerifiedEmail)

	created, err := p.users.Provision(ctx, user)
	if err != nil {
		slog.ErrorContext(ctx, "failed to provision user",
			slog.String("user_id", uid),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "provisioning failed")
		p.metrics.RecordProvision("failed")
		return "", model.NewProvisioningFailedError()
	}

	result := ResultUpdated
	if created {
		result = ResultCreated
	}
	span.SetAttributes(attribute.String("provision.result", string(result)))
	p.metrics.RecordProvision(string(result))

	slog.InfoContext(ctx, "user provisioned",
		slog.String("user_id", uid),
		slog.String("result", string(result)),
	)
	return result, nil
}

// Get はプロフィールを取得する。未作成の場合はPROFILE_NOT_FOUNDを返す。
func (p *Provisioner) Get(ctx context.Context, uid string) (*model.User, error) {
	user, err := p.users.FindByID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if user == nil {
		return nil, model.NewProfileNotFoundError()
	}
	return user, nil
}

func (p *Provisioner) cleanDisplayName(raw *string) *string {
	if raw == nil {
		return nil
	}
	name := p.sanitizer.Sanitize(*raw, maxDisplayNameRunes)
	if name == "" {
		return nil
	}
	return &name
}

// cleanAvatarRef はhttpsかつ内部ネットワークを指さないURLのみ残す。
// 不正な値はリクエスト全体を失敗させず、NULLとして保存する。
func (p *Provisioner) cleanAvatarRef(ctx context.Context, uid string, raw *string) *string {
	ref := trimmedOrNil(raw)
	if ref == nil {
		return nil
	}
	if len(*ref) > maxAvatarRefLength {
		slog.WarnContext(ctx, "avatar reference too long; stored as null",
			slog.String("user_id", uid),
			slog.Int("length", len(*ref)),
		)
		return nil
	}
	if err := p.avatars.ValidateAvatarRef(*ref); err != nil {
		slog.WarnContext(ctx, "avatar reference rejected",
			slog.String("user_id", uid),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return ref
}

func cleanEmail(ctx context.Context, uid string, raw *string) *string {
	email := trimmedOrNil(raw)
	if email != nil && len(*email) > maxEmailLength {
		slog.WarnContext(ctx, "email too long; stored as null",
			slog.String("user_id", uid),
			slog.Int("length", len(*email)),
		)
		return nil
	}
	return email
}

// discoveryKey はパートナー検索用の正規化済みメールアドレスを返す。
// 申告値がIDトークンの確認済みメールアドレスと一致しない場合はnilを返す。
func discoveryKey(ctx context.Context, uid string, email *string, verified string) *string {
	if email == nil {
		return nil
	}
	normalized, err := NormalizeEmail(*email)
	if err != nil {
		slog.WarnContext(ctx, "email could not be normalized; profile will not be discoverable",
			slog.String("user_id", uid),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if v, err := NormalizeEmail(verified); err != nil || v != normalized {
		slog.InfoContext(ctx, "email does not match verified identity; profile will not be discoverable",
			slog.String("user_id", uid),
		)
		return nil
	}
	return &normalized
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
