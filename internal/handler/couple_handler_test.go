package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/twogether/internal/couple"
	"github.com/hitoshi/twogether/internal/model"
)

func sampleView() *couple.View {
	next := time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)
	return &couple.View{
		ID:        "c-1",
		MemberIDs: []string{"u1", "u2"},
		Partner: &couple.PartnerProfile{
			UID:         "u2",
			DisplayName: strPtr("Ben"),
		},
		AnniversaryDate: time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC),
		NextPlannedDate: &next,
		DaysTogether:    976,
		CreatedAt:       fixedNow,
	}
}

func TestCoupleHandler_GetCouple(t *testing.T) {
	svc := &mockCoupleService{
		getCoupleFn: func(ctx context.Context, uid string) (*couple.View, error) {
			return sampleView(), nil
		},
	}
	h := NewCoupleHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/couple", nil), "u1")
	w := httptest.NewRecorder()

	h.GetCouple(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp coupleResponse
	decodeBody(t, w, &resp)
	if resp.ID != "c-1" || len(resp.MemberIDs) != 2 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Partner == nil || resp.Partner.UID != "u2" {
		t.Errorf("Partner = %+v", resp.Partner)
	}
	if resp.DaysTogether != 976 {
		t.Errorf("DaysTogether = %d, want 976", resp.DaysTogether)
	}
	if resp.AnniversaryDate != "2024-02-14T00:00:00Z" {
		t.Errorf("AnniversaryDate = %q", resp.AnniversaryDate)
	}
	if resp.NextPlannedDate == nil || *resp.NextPlannedDate != "2026-11-03T00:00:00Z" {
		t.Errorf("NextPlannedDate = %v", resp.NextPlannedDate)
	}
}

func TestCoupleHandler_GetCouple_NotLinked(t *testing.T) {
	h := NewCoupleHandler(&mockCoupleService{})

	req := withUserID(httptest.NewRequest(http.MethodGet, "/couple", nil), "u3")
	w := httptest.NewRecorder()

	h.GetCouple(w, req)

	assertError(t, w, http.StatusConflict, model.ErrCodeNotLinked)
}

func TestCoupleHandler_SetNextDate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantNil bool
	}{
		{"日付を設定", `{"nextPlannedDate":"2026-11-03"}`, false},
		{"nullでクリア", `{"nextPlannedDate":null}`, true},
		{"空文字でクリア", `{"nextPlannedDate":""}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured *time.Time
			svc := &mockCoupleService{
				setNextFn: func(ctx context.Context, uid string, date *time.Time) (*couple.View, error) {
					captured = date
					return sampleView(), nil
				},
			}
			h := NewCoupleHandler(svc)

			req := withUserID(jsonRequest(t, http.MethodPut, "/couple/next-date", tt.body), "u1")
			w := httptest.NewRecorder()

			h.SetNextDate(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
			}
			if (captured == nil) != tt.wantNil {
				t.Errorf("captured = %v, wantNil %v", captured, tt.wantNil)
			}
		})
	}
}

func TestCoupleHandler_SetNextDate_InvalidDate(t *testing.T) {
	h := NewCoupleHandler(&mockCoupleService{})

	req := withUserID(jsonRequest(t, http.MethodPut, "/couple/next-date", `{"nextPlannedDate":"next friday"}`), "u1")
	w := httptest.NewRecorder()

	h.SetNextDate(w, req)

	body := assertError(t, w, http.StatusBadRequest, model.ErrCodeInvalidRequest)
	if body.Field != "nextPlannedDate" {
		t.Errorf("field = %q, want nextPlannedDate", body.Field)
	}
}

func TestCoupleHandler_Goals(t *testing.T) {
	goal := &model.Goal{ID: "g-1", CoupleID: "c-1", Title: "Visit Kyoto", CreatedAt: fixedNow}
	svc := &mockCoupleService{
		listGoalsFn: func(ctx context.Context, uid string) ([]*model.Goal, error) {
			return []*model.Goal{goal}, nil
		},
		addGoalFn: func(ctx context.Context, uid, title string) (*model.Goal, error) {
			if title != "Visit Kyoto" {
				t.Errorf("title = %q", title)
			}
			return goal, nil
		},
		setGoalCompletedFn: func(ctx context.Context, uid, goalID string, completed bool) (*model.Goal, error) {
			if goalID != "g-1" || !completed {
				t.Errorf("goalID = %q, completed = %v", goalID, completed)
			}
			done := *goal
			done.Completed = true
			return &done, nil
		},
	}
	h := NewCoupleHandler(svc)

	t.Run("一覧", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ListGoals(w, withUserID(httptest.NewRequest(http.MethodGet, "/couple/goals", nil), "u1"))

		var resp goalsResponse
		decodeBody(t, w, &resp)
		if len(resp.Goals) != 1 || resp.Goals[0].ID != "g-1" {
			t.Errorf("Goals = %+v", resp.Goals)
		}
	})

	t.Run("追加", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.AddGoal(w, withUserID(jsonRequest(t, http.MethodPost, "/couple/goals", map[string]string{"title": "Visit Kyoto"}), "u1"))

		if w.Code != http.StatusCreated {
			t.Errorf("status = %d, want 201", w.Code)
		}
	})

	t.Run("完了", func(t *testing.T) {
		req := jsonRequest(t, http.MethodPatch, "/couple/goals/g-1", map[string]bool{"completed": true})
		req = withChiURLParam(withUserID(req, "u1"), "id", "g-1")
		w := httptest.NewRecorder()

		h.UpdateGoal(w, req)

		var resp goalResponse
		decodeBody(t, w, &resp)
		if !resp.Completed {
			t.Error("goal should be completed")
		}
	})
}

func TestCoupleHandler_Goals_Empty(t *testing.T) {
	h := NewCoupleHandler(&mockCoupleService{})

	w := httptest.NewRecorder()
	h.ListGoals(w, withUserID(httptest.NewRequest(http.MethodGet, "/couple/goals", nil), "u1"))

	if got := w.Body.String(); got != "{\"goals\":[]}\n" {
		t.Errorf("body = %q, want empty array", got)
	}
}

func TestCoupleHandler_UpdateGoal_Errors(t *testing.T) {
	h := NewCoupleHandler(&mockCoupleService{})

	t.Run("completedが無い", func(t *testing.T) {
		req := withChiURLParam(withUserID(jsonRequest(t, http.MethodPatch, "/couple/goals/g-1", `{}`), "u1"), "id", "g-1")
		w := httptest.NewRecorder()
		h.UpdateGoal(w, req)

		body := assertError(t, w, http.StatusBadRequest, model.ErrCodeInvalidRequest)
		if body.Field != "completed" {
			t.Errorf("field = %q, want completed", body.Field)
		}
	})

	t.Run("他のカップルの目標", func(t *testing.T) {
		req := withChiURLParam(withUserID(jsonRequest(t, http.MethodPatch, "/couple/goals/g-x", `{"completed":false}`), "u1"), "id", "g-x")
		w := httptest.NewRecorder()
		h.UpdateGoal(w, req)

		assertError(t, w, http.StatusNotFound, model.ErrCodeGoalNotFound)
	})
}

func TestCoupleHandler_Moods(t *testing.T) {
	mood := &model.Mood{UserID: "u2", Date: "2026-10-17", Mood: model.MoodHappy, Note: "", UpdatedAt: fixedNow}

	t.Run("記録", func(t *testing.T) {
		svc := &mockCoupleService{
			recordMoodFn: func(ctx context.Context, uid string, in couple.MoodInput) (*model.Mood, error) {
				if in.Mood != "happy" || in.Date != "" {
					t.Errorf("input = %+v", in)
				}
				return mood, nil
			},
		}
		w := httptest.NewRecorder()
		NewCoupleHandler(svc).RecordMood(w, withUserID(jsonRequest(t, http.MethodPut, "/moods/today", map[string]string{"mood": "happy"}), "u2"))

		var resp moodEnvelope
		decodeBody(t, w, &resp)
		if resp.Mood == nil || resp.Mood.Mood != "happy" {
			t.Errorf("mood = %+v", resp.Mood)
		}
	})

	t.Run("相手の記録を取得", func(t *testing.T) {
		svc := &mockCoupleService{
			getMoodFn: func(ctx context.Context, uid, targetUID, date string) (*model.Mood, error) {
				if uid != "u1" || targetUID != "u2" || date != "2026-10-17" {
					t.Errorf("uid=%q target=%q date=%q", uid, targetUID, date)
				}
				return mood, nil
			},
		}
		w := httptest.NewRecorder()
		NewCoupleHandler(svc).GetMood(w, withUserID(httptest.NewRequest(http.MethodGet, "/moods/today?userId=u2&date=2026-10-17", nil), "u1"))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
	})

	t.Run("記録が無い場合はnull", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewCoupleHandler(&mockCoupleService{}).GetMood(w, withUserID(httptest.NewRequest(http.MethodGet, "/moods/today", nil), "u1"))

		if got := w.Body.String(); got != "{\"mood\":null}\n" {
			t.Errorf("body = %q, want mood null", got)
		}
	})

	t.Run("カップル外は403", func(t *testing.T) {
		svc := &mockCoupleService{
			getMoodFn: func(context.Context, string, string, string) (*model.Mood, error) {
				return nil, model.NewForbiddenError()
			},
		}
		w := httptest.NewRecorder()
		NewCoupleHandler(svc).GetMood(w, withUserID(httptest.NewRequest(http.MethodGet, "/moods/today?userId=u9", nil), "u1"))

		assertError(t, w, http.StatusForbidden, model.ErrCodeForbidden)
	})

	t.Run("気分が空", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewCoupleHandler(&mockCoupleService{}).RecordMood(w, withUserID(jsonRequest(t, http.MethodPut, "/moods/today", map[string]string{}), "u1"))

		assertError(t, w, http.StatusBadRequest, model.ErrCodeInvalidRequest)
	})
}
