// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/twogether/internal/model"
)

// UserRepository はユーザープロフィールの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Provision はプロフィールを1回の行書き込みで作成または更新する。
	// 新規作成した場合はtrueを返す。既存行のcouple_idとcreated_atは変更しない。
	Provision(ctx context.Context, user *model.User) (created bool, err error)
}

// CoupleRepository はカップルの永続化インターフェース。
// カップルの作成は連携トランザクション（LinkStore）でのみ行う。
type CoupleRepository interface {
	// FindByID は指定IDのカップルを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Couple, error)

	// UpdateNextPlannedDate は次のデート予定日を設定する。nilでクリアする。
	UpdateNextPlannedDate(ctx context.Context, id string, date *time.Time) error
}

// GoalRepository は共有目標の永続化インターフェース。
type GoalRepository interface {
	// ListByCoupleID はカップルの目標をcreated_at降順で返す。
	ListByCoupleID(ctx context.Context, coupleID string) ([]*model.Goal, error)

	// FindByID は指定IDの目標を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Goal, error)

	// Create は目標を作成する。
	Create(ctx context.Context, goal *model.Goal) error

	// SetCompleted は目標の完了状態を更新する。
	SetCompleted(ctx context.Context, id string, completed bool) error
}

// MoodRepository は気分記録の永続化インターフェース。
type MoodRepository interface {
	// Upsert は(user_id, mood_date)単位で気分を作成または上書きし、保存後の値を返す。
	Upsert(ctx context.Context, mood *model.Mood) (*model.Mood, error)

	// FindByUserAndDate は指定ユーザー・日付の気分を取得する。見つからない場合はnilを返す。
	FindByUserAndDate(ctx context.Context, userID, date string) (*model.Mood, error)
}

// LinkTx はパートナー連携トランザクション内で使用する操作。
type LinkTx interface {
	// FindUsersByEmailNormalized は正規化済みメールアドレスが一致するユーザーを最大limit件返す。
	FindUsersByEmailNormalized(ctx context.Context, emailNormalized string, limit int) ([]*model.User, error)

	// LockUsers は指定ユーザーの行をID昇順にロックして返す。存在しないIDはmapに含まれない。
	LockUsers(ctx context.Context, ids ...string) (map[string]*model.User, error)

	// CreateCouple はカップルを作成する。
	CreateCouple(ctx context.Context, couple *model.Couple) error

	// SetCoupleIDIfUnlinked はcouple_idがNULLの場合のみ設定する。
	// 他のトランザクションが先に設定していた場合はfalseを返す。
	SetCoupleIDIfUnlinked(ctx context.Context, userID, coupleID string) (bool, error)
}

// LinkStore は連携処理のユニットオブワーク。
// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
type LinkStore interface {
	WithinTx(ctx context.Context, fn func(tx LinkTx) error) error
}

// RepairTx は不整合なカップルの修復トランザクション内で使用する操作。
type RepairTx interface {
	// LockCouple は指定カップルの行をロックして返す。見つからない場合はnilを返す。
	LockCouple(ctx context.Context, id string) (*model.Couple, error)

	LockUsers(ctx context.Context, ids ...string) (map[string]*model.User, error)

	SetCoupleIDIfUnlinked(ctx context.Context, userID, coupleID string) (bool, error)

	// ClearCoupleID はユーザーのcouple_idが指定カップルを指している場合のみNULLに戻す。
	ClearCoupleID(ctx context.Context, userID, coupleID string) error

	// DeleteCouple はカップルと関連する目標を削除する。
	DeleteCouple(ctx context.Context, id string) error
}

// RepairStore は修復ジョブが使用するストア。
type RepairStore interface {
	// ListUnreconciledCoupleIDs はメンバーの少なくとも一方が
	// そのカップルを参照していないカップルのIDを作成日時順に最大limit件返す。
	ListUnreconciledCoupleIDs(ctx context.Context, limit int) ([]string, error)

	// ClearDanglingCoupleIDs は存在しない、または自分がメンバーでないカップルを
	// 指しているcouple_idをNULLに戻し、更新件数を返す。
	ClearDanglingCoupleIDs(ctx context.Context) (int64, error)

	WithinRepairTx(ctx context.Context, fn func(tx RepairTx) error) error
}
