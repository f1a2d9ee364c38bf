// Package couple は連携済みカップルの共有レコード（記念日・次のデート・目標・気分）を扱う。
package couple

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"

	"github.com/hitoshi/twogether/internal/model"
	"github.com/hitoshi/twogether/internal/repository"
	"github.com/hitoshi/twogether/internal/security"
)

const (
	maxGoalTitleRunes = 200
	maxMoodNoteRunes  = 280
)

// PartnerProfile は相手の表示用プロフィール。
type PartnerProfile struct {
	UID         string
	DisplayName *string
	Email       *string
	AvatarRef   *string
}

// View はカップル画面に表示する情報。
type View struct {
	ID              string
	MemberIDs       []string
	Partner         *PartnerProfile // 相手のプロフィールが無い場合はnil
	AnniversaryDate time.Time
	NextPlannedDate *time.Time
	DaysTogether    int
	CreatedAt       time.Time
}

// MoodInput は気分記録の入力。
type MoodInput struct {
	Mood string
	Note string
	Date string // YYYY-MM-DD。空の場合はサーバーのUTC日付
}

// Service は共有レコードのサービス層。
// いずれの操作も呼び出し元が連携済みであることを要求する。
type Service struct {
	users     repository.UserRepository
	couples   repository.CoupleRepository
	goals     repository.GoalRepository
	moods     repository.MoodRepository
	sanitizer security.TextSanitizer
	now       func() time.Time
	newID     func() string
}

// NewService はServiceを生成する。
func NewService(
	users repository.UserRepository,
	couples repository.CoupleRepository,
	goals repository.GoalRepository,
	moods repository.MoodRepository,
	sanitizer security.TextSanitizer,
) *Service {
	return &Service{
		users:     users,
		couples:   couples,
		goals:     goals,
		moods:     moods,
		sanitizer: sanitizer,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
}

// WithClock はテスト用に時刻関数を差し替える。
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// coupleOf は呼び出し元のカップルを取得する。
// couple_idが参照するカップルが存在しない、または自分がメンバーでない場合は未連携として扱う。
func (s *Service) coupleOf(ctx context.Context, uid string) (*model.Couple, error) {
	user, err := s.users.FindByID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, model.NewProfileNotFoundError()
	}
	if !user.IsLinked() {
		return nil, model.NewNotLinkedError()
	}

	couple, err := s.couples.FindByID(ctx, *user.CoupleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get couple: %w", err)
	}
	if couple == nil || !couple.HasMember(uid) {
		slog.WarnContext(ctx, "user references a couple it does not belong to",
			slog.String("user_id", uid),
			slog.String("couple_id", *user.CoupleID),
		)
		return nil, model.NewNotLinkedError()
	}
	return couple, nil
}

// GetCouple はカップルの情報を相手のプロフィールと記念日からの経過日数付きで返す。
func (s *Service) GetCouple(ctx context.Context, uid string) (*View, error) {
	couple, err := s.coupleOf(ctx, uid)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, uid, couple)
}

// SetNextPlannedDate は次のデート予定日を設定する。nilでクリアする。
func (s *Service) SetNextPlannedDate(ctx context.Context, uid string, date *time.Time) (*View, error) {
	couple, err := s.coupleOf(ctx, uid)
	if err != nil {
		return nil, err
	}

	var next *time.Time
	if date != nil {
		d := date.UTC()
		next = &d
	}
	if err := s.couples.UpdateNextPlannedDate(ctx, couple.ID, next); err != nil {
		return nil, fmt.Errorf("failed to set next planned date: %w", err)
	}
	couple.NextPlannedDate = next

	slog.InfoContext(ctx, "next planned date updated",
		slog.String("user_id", uid),
		slog.String("couple_id", couple.ID),
	)
	return s.view(ctx, uid, couple)
}

func (s *Service) view(ctx context.Context, uid string, couple *model.Couple) (*View, error) {
	v := &View{
		ID:              couple.ID,
		MemberIDs:       couple.MemberIDs(),
		AnniversaryDate: couple.AnniversaryDate,
		NextPlannedDate: couple.NextPlannedDate,
		DaysTogether:    couple.DaysTogether(s.now()),
		CreatedAt:       couple.CreatedAt,
	}

	partner, err := s.users.FindByID(ctx, couple.PartnerOf(uid))
	if err != nil {
		return nil, fmt.Errorf("failed to get partner: %w", err)
	}
	if partner != nil {
		v.Partner = &PartnerProfile{
			UID:         partner.ID,
			DisplayName: partner.DisplayName,
			Email:       partner.Email,
			AvatarRef:   partner.AvatarRef,
		}
	}
	return v, nil
}

// ListGoals はカップルの目標を新しい順に返す。
func (s *Service) ListGoals(ctx context.Context, uid string) ([]*model.Goal, error) {
	couple, err := s.coupleOf(ctx, uid)
	if err != nil {
		return nil, err
	}
	goals, err := s.goals.ListByCoupleID(ctx, couple.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	return goals, nil
}

// AddGoal は目標を追加する。タイトルはHTMLを除去して1〜200文字に制限する。
func (s *Service) AddGoal(ctx context.Context, uid, title string) (*model.Goal, error) {
	cleaned := s.sanitizer.Sanitize(title, maxGoalTitleRunes)
	if err := validation.Validate(cleaned, validation.Required); err != nil {
		return nil, model.NewInvalidRequestError("title", err.Error())
	}

	couple, err := s.coupleOf(ctx, uid)
	if err != nil {
		return nil, err
	}

	goal := &model.Goal{
		ID:        s.newID(),
		CoupleID:  couple.ID,
		Title:     cleaned,
		Completed: false,
		CreatedAt: s.now(),
	}
	if err := s.goals.Create(ctx, goal); err != nil {
		return nil, fmt.Errorf("failed to create goal: %w", err)
	}

	slog.InfoContext(ctx, "goal added",
		slog.String("user_id", uid),
		slog.String("couple_id", couple.ID),
		slog.String("goal_id", goal.ID),
	)
	return goal, nil
}

// SetGoalCompleted は目標の完了状態を切り替える。
// 他のカップルの目標はGOAL_NOT_FOUNDとして扱い、存在を開示しない。
func (s *Service) SetGoalCompleted(ctx context.Context, uid, goalID string, completed bool) (*model.Goal, error) {
	couple, err := s.coupleOf(ctx, uid)
	if err != nil {
		return nil, err
	}

	goal, err := s.goals.FindByID(ctx, goalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get goal: %w", err)
	}
	if goal == nil || goal.CoupleID != couple.ID {
		return nil, model.NewGoalNotFoundError(goalID)
	}

	if err := s.goals.SetCompleted(ctx, goalID, completed); err != nil {
		return nil, fmt.Errorf("failed to update goal: %w", err)
	}
	goal.Completed = completed
	return goal, nil
}

// RecordMood は呼び出し元のその日の気分を記録する。同じ日の記録は上書きする。
func (s *Service) RecordMood(ctx context.Context, uid string, in MoodInput) (*model.Mood, error) {
	if err := validation.Validate(in.Mood, validation.Required, validation.In(moodChoices()...)); err != nil {
		return nil, model.NewInvalidRequestError("mood", err.Error())
	}
	date, err := s.moodDate(in.Date)
	if err != nil {
		return nil, err
	}

	if _, err := s.coupleOf(ctx, uid); err != nil {
		return nil, err
	}

	now := s.now()
	mood, err := s.moods.Upsert(ctx, &model.Mood{
		ID:        s.newID(),
		UserID:    uid,
		Date:      date,
		Mood:      model.MoodValue(in.Mood),
		Note:      s.sanitizer.Sanitize(in.Note, maxMoodNoteRunes),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record mood: %w", err)
	}
	return mood, nil
}

// GetMood は指定ユーザーの指定日の気分を返す。記録が無い場合はnilを返す。
// 参照できるのは自分と相手の記録のみ。targetUIDが空の場合は自分の記録を返す。
func (s *Service) GetMood(ctx context.Context, uid, targetUID, date string) (*model.Mood, error) {
	day, err := s.moodDate(date)
	if err != nil {
		return nil, err
	}

	couple, err := s.coupleOf(ctx, uid)
	if err != nil {
		return nil, err
	}
	if targetUID == "" {
		targetUID = uid
	}
	if !couple.HasMember(targetUID) {
		return nil, model.NewForbiddenError()
	}

	mood, err := s.moods.FindByUserAndDate(ctx, targetUID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to get mood: %w", err)
	}
	return mood, nil
}

// moodDate は日付文字列を検証する。空の場合は今日（UTC）を返す。
func (s *Service) moodDate(raw string) (string, error) {
	if raw == "" {
		return s.now().UTC().Format(model.MoodDateLayout), nil
	}
	if err := validation.Validate(raw, validation.Date(model.MoodDateLayout)); err != nil {
		return "", model.NewInvalidRequestError("date", err.Error())
	}
	return raw, nil
}

func moodChoices() []interface{} {
	out := make([]interface{}, len(model.MoodValues))
	for i, v := range model.MoodValues {
		out[i] = string(v)
	}
	return out
}
