package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/twogether/internal/database"
	"github.com/hitoshi/twogether/internal/model"
)

// SQLCoupleRepo はdatabase/sqlを使用したカップルリポジトリ。
type SQLCoupleRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQLCoupleRepo はSQLCoupleRepoを生成する。
func NewSQLCoupleRepo(db *sql.DB, dialect database.Dialect) *SQLCoupleRepo {
	return &SQLCoupleRepo{db: db, dialect: dialect}
}

// FindByID は指定IDのカップルを取得する。見つからない場合はnilを返す。
func (r *SQLCoupleRepo) FindByID(ctx context.Context, id string) (*model.Couple, error) {
	couple, err := scanCouple(r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT `+coupleColumns+` FROM couples WHERE id = ?`),
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find couple by ID: %w", err)
	}
	return couple, nil
}

// UpdateNextPlannedDate は次のデート予定日を設定する。nilでクリアする。
func (r *SQLCoupleRepo) UpdateNextPlannedDate(ctx context.Context, id string, date *time.Time) error {
	result, err := r.db.ExecContext(ctx,
		r.dialect.Rebind(`UPDATE couples SET next_planned_date = ? WHERE id = ?`),
		nullTimeArg(date), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update next planned date: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("couple not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ CoupleRepository = (*SQLCoupleRepo)(nil)
