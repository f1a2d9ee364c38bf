package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/twogether/internal/database"
	"github.com/hitoshi/twogether/internal/model"
)

// SQLGoalRepo はdatabase/sqlを使用した共有目標リポジトリ。
type SQLGoalRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQLGoalRepo はSQLGoalRepoを生成する。
func NewSQLGoalRepo(db *sql.DB, dialect database.Dialect) *SQLGoalRepo {
	return &SQLGoalRepo{db: db, dialect: dialect}
}

func scanGoal(s rowScanner) (*model.Goal, error) {
	goal := &model.Goal{}
	if err := s.Scan(&goal.ID, &goal.CoupleID, &goal.Title, &goal.Completed, &goal.CreatedAt); err != nil {
		return nil, err
	}
	goal.CreatedAt = goal.CreatedAt.UTC()
	return goal, nil
}

// ListByCoupleID はカップルの目標をcreated_at降順で返す。
func (r *SQLGoalRepo) ListByCoupleID(ctx context.Context, coupleID string) ([]*model.Goal, error) {
	rows, err := r.db.QueryContext(ctx,
		r.dialect.Rebind(`SELECT id, couple_id, title, completed, created_at
		 FROM goals
		 WHERE couple_id = ?
		 ORDER BY created_at DESC, id DESC`),
		coupleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	defer rows.Close()

	goals := []*model.Goal{}
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		goals = append(goals, goal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate goals: %w", err)
	}
	return goals, nil
}

// FindByID は指定IDの目標を取得する。見つからない場合はnilを返す。
func (r *SQLGoalRepo) FindByID(ctx context.Context, id string) (*model.Goal, error) {
	goal, err := scanGoal(r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT id, couple_id, title, completed, created_at FROM goals WHERE id = ?`),
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find goal by ID: %w", err)
	}
	return goal, nil
}

// Create は目標を作成する。
func (r *SQLGoalRepo) Create(ctx context.Context, goal *model.Goal) error {
	_, err := r.db.ExecContext(ctx,
		r.dialect.Rebind(`INSERT INTO goals (id, couple_id, title, completed, created_at) VALUES (?, ?, ?, ?, ?)`),
		goal.ID, goal.CoupleID, goal.Title, goal.Completed, goal.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert goal: %w", err)
	}
	return nil
}

// SetCompleted は目標の完了状態を更新する。
func (r *SQLGoalRepo) SetCompleted(ctx context.Context, id string, completed bool) error {
	result, err := r.db.ExecContext(ctx,
		r.dialect.Rebind(`UPDATE goals SET completed = ? WHERE id = ?`),
		completed, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update goal: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("goal not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ GoalRepository = (*SQLGoalRepo)(nil)
