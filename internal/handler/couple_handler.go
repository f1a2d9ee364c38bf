package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/hitoshi/twogether/internal/couple"
	"github.com/hitoshi/twogether/internal/model"
)

// CoupleServiceInterface はカップルハンドラーが必要とするサービスインターフェース。
type CoupleServiceInterface interface {
	GetCouple(ctx context.Context, uid string) (*couple.View, error)
	SetNextPlannedDate(ctx context.Context, uid string, date *time.Time) (*couple.View, error)
	ListGoals(ctx context.Context, uid string) ([]*model.Goal, error)
	AddGoal(ctx context.Context, uid, title string) (*model.Goal, error)
	SetGoalCompleted(ctx context.Context, uid, goalID string, completed bool) (*model.Goal, error)
	RecordMood(ctx context.Context, uid string, in couple.MoodInput) (*model.Mood, error)
	GetMood(ctx context.Context, uid, targetUID, date string) (*model.Mood, error)
}

// CoupleHandler はカップルの共有レコードのHTTPハンドラー。
type CoupleHandler struct {
	service CoupleServiceInterface
}

// NewCoupleHandler はCoupleHandlerを生成する。
func NewCoupleHandler(service CoupleServiceInterface) *CoupleHandler {
	return &CoupleHandler{service: service}
}

// --- リクエスト ---

// nextDateRequest の nextPlannedDate は null または空文字で予定をクリアする。
type nextDateRequest struct {
	NextPlannedDate *string `json:"nextPlannedDate"`
}

type addGoalRequest struct {
	Title string `json:"title"`
}

func (r addGoalRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, 1000)),
	)
}

type updateGoalRequest struct {
	Completed *bool `json:"completed"`
}

func (r updateGoalRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Completed, validation.NotNil),
	)
}

type recordMoodRequest struct {
	Mood string `json:"mood"`
	Note string `json:"note"`
	Date string `json:"date"`
}

func (r recordMoodRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Mood, validation.Required),
		validation.Field(&r.Note, validation.Length(0, 2000)),
	)
}

// --- レスポンス ---

type partnerResponse struct {
	UID         string  `json:"uid"`
	DisplayName *string `json:"displayName"`
	Email       *string `json:"email"`
	AvatarRef   *string `json:"avatarRef"`
}

type coupleResponse struct {
	ID              string           `json:"id"`
	MemberIDs       []string         `json:"memberIds"`
	Partner         *partnerResponse `json:"partner"`
	AnniversaryDate string           `json:"anniversaryDate"`
	NextPlannedDate *string          `json:"nextPlannedDate"`
	DaysTogether    int              `json:"daysTogether"`
	CreatedAt       string           `json:"createdAt"`
}

type goalResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	CreatedAt string `json:"createdAt"`
}

type goalsResponse struct {
	Goals []goalResponse `json:"goals"`
}

type moodResponse struct {
	UserID    string `json:"userId"`
	Date      string `json:"date"`
	Mood      string `json:"mood"`
	Note      string `json:"note"`
	UpdatedAt string `json:"updatedAt"`
}

// moodEnvelope は記録が無い場合にmood: nullを返すためのラッパー。
type moodEnvelope struct {
	Mood *moodResponse `json:"mood"`
}

// --- ハンドラー ---

// GetCouple はカップルの情報を返す。
// GET /couple
func (h *CoupleHandler) GetCouple(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	v, err := h.service.GetCouple(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoupleResponse(v))
}

// SetNextDate は次のデート予定日を設定またはクリアする。
// PUT /couple/next-date
func (h *CoupleHandler) SetNextDate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req nextDateRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		handleServiceError(w, r, err)
		return
	}

	var raw string
	if req.NextPlannedDate != nil {
		raw = *req.NextPlannedDate
	}
	next, err := parseOptionalDate("nextPlannedDate", raw)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	v, err := h.service.SetNextPlannedDate(r.Context(), userID, next)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoupleResponse(v))
}

// ListGoals はカップルの目標一覧を返す。
// GET /couple/goals
func (h *CoupleHandler) ListGoals(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	goals, err := h.service.ListGoals(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := goalsResponse{Goals: make([]goalResponse, len(goals))}
	for i, g := range goals {
		resp.Goals[i] = toGoalResponse(g)
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddGoal は目標を追加する。
// POST /couple/goals
func (h *CoupleHandler) AddGoal(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addGoalRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		handleServiceError(w, r, validationError(err))
		return
	}

	goal, err := h.service.AddGoal(r.Context(), userID, req.Title)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGoalResponse(goal))
}

// UpdateGoal は目標の完了状態を切り替える。
// PATCH /couple/goals/{id}
func (h *CoupleHandler) UpdateGoal(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	goalID := chi.URLParam(r, "id")

	var req updateGoalRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		handleServiceError(w, r, validationError(err))
		return
	}

	goal, err := h.service.SetGoalCompleted(r.Context(), userID, goalID, *req.Completed)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalResponse(goal))
}

// RecordMood は呼び出し元のその日の気分を記録する。
// PUT /moods/today
func (h *CoupleHandler) RecordMood(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req recordMoodRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		handleServiceError(w, r, validationError(err))
		return
	}

	mood, err := h.service.RecordMood(r.Context(), userID, couple.MoodInput{
		Mood: req.Mood,
		Note: req.Note,
		Date: req.Date,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moodEnvelope{Mood: toMoodResponse(mood)})
}

// GetMood は自分または相手の気分を返す。記録が無い場合はmood: null。
// GET /moods/today?userId=&date=
func (h *CoupleHandler) GetMood(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	mood, err := h.service.GetMood(r.Context(), userID, q.Get("userId"), q.Get("date"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moodEnvelope{Mood: toMoodResponse(mood)})
}

// --- 変換 ---

func toCoupleResponse(v *couple.View) coupleResponse {
	resp := coupleResponse{
		ID:              v.ID,
		MemberIDs:       v.MemberIDs,
		AnniversaryDate: v.AnniversaryDate.UTC().Format(time.RFC3339),
		NextPlannedDate: formatTimePtr(v.NextPlannedDate),
		DaysTogether:    v.DaysTogether,
		CreatedAt:       v.CreatedAt.UTC().Format(time.RFC3339),
	}
	if v.Partner != nil {
		resp.Partner = &partnerResponse{
			UID:         v.Partner.UID,
			DisplayName: v.Partner.DisplayName,
			Email:       v.Partner.Email,
			AvatarRef:   v.Partner.AvatarRef,
		}
	}
	return resp
}

func toGoalResponse(g *model.Goal) goalResponse {
	return goalResponse{
		ID:        g.ID,
		Title:     g.Title,
		Completed: g.Completed,
		CreatedAt: g.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toMoodResponse(m *model.Mood) *moodResponse {
	if m == nil {
		return nil
	}
	return &moodResponse{
		UserID:    m.UserID,
		Date:      m.Date,
		Mood:      string(m.Mood),
		Note:      m.Note,
		UpdatedAt: m.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
