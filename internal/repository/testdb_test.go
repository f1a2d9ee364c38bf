package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hitoshi/twogether/internal/database"
	"github.com/hitoshi/twogether/internal/model"
)

// newTestDB はマイグレーション済みのSQLiteデータベースをテストごとに作成する。
func newTestDB(t *testing.T) (*sql.DB, database.Dialect) {
	t.Helper()
	return openTestDB(t, newTestDBURL(t))
}

// newTestDBURL はマイグレーション済みのSQLiteファイルのURLを返す。
func newTestDBURL(t *testing.T) string {
	t.Helper()

	dbURL := "sqlite://" + filepath.Join(t.TempDir(), "repo.db")
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	return dbURL
}

// newPostgresTestDBURL はTEST_DATABASE_URLを空の状態にして返す。
// 未設定または接続できない場合はスキップする。
func newPostgresTestDBURL(t *testing.T) string {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}
	db, _, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE moods, goals, couples, users CASCADE`); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}
	return dbURL
}

// openTestDB は接続プールを開き、テスト終了時に閉じる。
func openTestDB(t *testing.T, dbURL string) (*sql.DB, database.Dialect) {
	t.Helper()

	db, dialect, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, dialect
}

var testNow = time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

// seedUser はテスト用のユーザーを作成する。
func seedUser(t *testing.T, repo *SQLUserRepo, id, email string) *model.User {
	t.Helper()
	user := &model.User{
		ID:              id,
		DisplayName:     strPtr("user " + id),
		Email:           strPtr(email),
		EmailNormalized: strPtr(email),
		CreatedAt:       testNow,
		LastSeenAt:      testNow,
	}
	if _, err := repo.Provision(context.Background(), user); err != nil {
		t.Fatalf("ユーザー作成に失敗: %v", err)
	}
	return user
}

// seedCouple は連携トランザクションを使ってカップルを作成する。
func seedCouple(t *testing.T, store *SQLTxStore, id, uid1, uid2 string) *model.Couple {
	t.Helper()
	couple := model.NewCouple(id, uid1, uid2, testNow, testNow)
	err := store.WithinTx(context.Background(), func(tx LinkTx) error {
		if err := tx.CreateCouple(context.Background(), couple); err != nil {
			return err
		}
		for _, uid := range couple.MemberIDs() {
			if _, err := tx.SetCoupleIDIfUnlinked(context.Background(), uid, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("カップル作成に失敗: %v", err)
	}
	return couple
}
