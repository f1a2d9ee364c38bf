package repository

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/twogether/internal/model"
)

func TestSQLCoupleRepo_UpdateNextPlannedDate(t *testing.T) {
	db, dialect := newTestDB(t)
	users := NewSQLUserRepo(db, dialect)
	store := NewSQLTxStore(db, dialect)
	couples := NewSQLCoupleRepo(db, dialect)
	ctx := context.Background()

	seedUser(t, users, "uid-a", "a@example.com")
	seedUser(t, users, "uid-b", "b@example.com")
	seedCouple(t, store, "couple-1", "uid-b", "uid-a")

	got, err := couples.FindByID(ctx, "couple-1")
	if err != nil || got == nil {
		t.Fatalf("FindByID: couple=%v err=%v", got, err)
	}
	if got.MemberA != "uid-a" || got.MemberB != "uid-b" {
		t.Errorf("members = (%s, %s), want canonical order", got.MemberA, got.MemberB)
	}
	if got.NextPlannedDate != nil {
		t.Errorf("NextPlannedDate = %v, want nil", got.NextPlannedDate)
	}

	next := time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)
	if err := couples.UpdateNextPlannedDate(ctx, "couple-1", &next); err != nil {
		t.Fatalf("UpdateNextPlannedDate returned error: %v", err)
	}
	got, _ = couples.FindByID(ctx, "couple-1")
	if got.NextPlannedDate == nil || !got.NextPlannedDate.Equal(next) {
		t.Errorf("NextPlannedDate = %v, want %v", got.NextPlannedDate, next)
	}

	if err := couples.UpdateNextPlannedDate(ctx, "couple-1", nil); err != nil {
		t.Fatalf("UpdateNextPlannedDate(nil) returned error: %v", err)
	}
	got, _ = couples.FindByID(ctx, "couple-1")
	if got.NextPlannedDate != nil {
		t.Errorf("NextPlannedDate = %v, want nil after clear", got.NextPlannedDate)
	}

	if err := couples.UpdateNextPlannedDate(ctx, "missing", nil); err == nil {
		t.Error("存在しないカップルの更新でエラーにならない")
	}
}

func TestSQLGoalRepo_ListOrderAndToggle(t *testing.T) {
	db, dialect := newTestDB(t)
	users := NewSQLUserRepo(db, dialect)
	store := NewSQLTxStore(db, dialect)
	goals := NewSQLGoalRepo(db, dialect)
	ctx := context.Background()

	seedUser(t, users, "uid-a", "a@example.com")
	seedUser(t, users, "uid-b", "b@example.com")
	seedCouple(t, store, "couple-1", "uid-a", "uid-b")

	for i, title := range []string{"古い目標", "新しい目標"} {
		g := &model.Goal{ID: title, CoupleID: "couple-1", Title: title, CreatedAt: testNow.Add(time.Duration(i) * time.Hour)}
		if err := goals.Create(ctx, g); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	list, err := goals.ListByCoupleID(ctx, "couple-1")
	if err != nil {
		t.Fatalf("ListByCoupleID returned error: %v", err)
	}
	if len(list) != 2 || list[0].Title != "新しい目標" {
		t.Fatalf("list = %+v, want newest first", list)
	}

	if err := goals.SetCompleted(ctx, "古い目標", true); err != nil {
		t.Fatalf("SetCompleted returned error: %v", err)
	}
	g, _ := goals.FindByID(ctx, "古い目標")
	if g == nil || !g.Completed {
		t.Errorf("goal = %+v, want completed", g)
	}

	empty, err := goals.ListByCoupleID(ctx, "other")
	if err != nil {
		t.Fatalf("ListByCoupleID returned error: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("empty list = %v, want non-nil empty slice", empty)
	}
}

func TestSQLMoodRepo_UpsertKeepsOnePerDay(t *testing.T) {
	db, dialect := newTestDB(t)
	users := NewSQLUserRepo(db, dialect)
	moods := NewSQLMoodRepo(db, dialect)
	ctx := context.Background()

	seedUser(t, users, "uid-a", "a@example.com")

	first, err := moods.Upsert(ctx, &model.Mood{
		ID: "mood-1", UserID: "uid-a", Date: "2026-10-17", Mood: model.MoodHappy,
		CreatedAt: testNow, UpdatedAt: testNow,
	})
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	later := testNow.Add(time.Hour)
	second, err := moods.Upsert(ctx, &model.Mood{
		ID: "mood-2", UserID: "uid-a", Date: "2026-10-17", Mood: model.MoodTired, Note: "残業",
		CreatedAt: later, UpdatedAt: later,
	})
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("ID = %q, want %q (同じ日の記録は上書き)", second.ID, first.ID)
	}
	if second.Mood != model.MoodTired || second.Note != "残業" {
		t.Errorf("mood = %+v, want tired/残業", second)
	}
	if !second.CreatedAt.Equal(testNow) || !second.UpdatedAt.Equal(later) {
		t.Errorf("timestamps = (%v, %v)", second.CreatedAt, second.UpdatedAt)
	}

	none, err := moods.FindByUserAndDate(ctx, "uid-a", "2026-10-18")
	if err != nil {
		t.Fatalf("FindByUserAndDate returned error: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil mood, got %+v", none)
	}
}
