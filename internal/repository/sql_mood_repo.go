package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/twogether/internal/database"
	"github.com/hitoshi/twogether/internal/model"
)

// SQLMoodRepo はdatabase/sqlを使用した気分記録リポジトリ。
type SQLMoodRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQLMoodRepo はSQLMoodRepoを生成する。
func NewSQLMoodRepo(db *sql.DB, dialect database.Dialect) *SQLMoodRepo {
	return &SQLMoodRepo{db: db, dialect: dialect}
}

// Upsert は(user_id, mood_date)単位で気分を作成または上書きし、保存後の値を返す。
// 既存行がある場合、idとcreated_atは維持される。
func (r *SQLMoodRepo) Upsert(ctx context.Context, mood *model.Mood) (*model.Mood, error) {
	_, err := r.db.ExecContext(ctx,
		r.dialect.Rebind(`INSERT INTO moods (id, user_id, mood_date, mood, note, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, mood_date) DO UPDATE
		 SET mood = excluded.mood, note = excluded.note, updated_at = excluded.updated_at`),
		mood.ID, mood.UserID, mood.Date, string(mood.Mood), mood.Note,
		mood.CreatedAt.UTC(), mood.UpdatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert mood: %w", err)
	}

	saved, err := r.FindByUserAndDate(ctx, mood.UserID, mood.Date)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, fmt.Errorf("mood not found after upsert: %s %s", mood.UserID, mood.Date)
	}
	return saved, nil
}

// FindByUserAndDate は指定ユーザー・日付の気分を取得する。見つからない場合はnilを返す。
func (r *SQLMoodRepo) FindByUserAndDate(ctx context.Context, userID, date string) (*model.Mood, error) {
	mood := &model.Mood{}
	var value string
	err := r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT id, user_id, mood_date, mood, note, created_at, updated_at
		 FROM moods WHERE user_id = ? AND mood_date = ?`),
		userID, date,
	).Scan(&mood.ID, &mood.UserID, &mood.Date, &value, &mood.Note, &mood.CreatedAt, &mood.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find mood: %w", err)
	}
	mood.Mood = model.MoodValue(value)
	mood.CreatedAt = mood.CreatedAt.UTC()
	mood.UpdatedAt = mood.UpdatedAt.UTC()
	return mood, nil
}

// compile-time interface check
var _ MoodRepository = (*SQLMoodRepo)(nil)
