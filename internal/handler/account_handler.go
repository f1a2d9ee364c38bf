package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/twogether/internal/account"
	"github.com/hitoshi/twogether/internal/middleware"
	"github.com/hitoshi/twogether/internal/model"
)

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	// Provision はログイン時にプロフィールを作成または更新する。
	Provision(ctx context.Context, uid string, in account.ProfileInput) (account.Result, error)
	// Get は呼び出し元のプロフィールを返す。
	Get(ctx context.Context, uid string) (*model.User, error)
}

// AccountHandler はプロフィールのHTTPハンドラー。
type AccountHandler struct {
	service AccountServiceInterface
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface) *AccountHandler {
	return &AccountHandler{service: service}
}

// provisionRequest はプロフィール作成・更新リクエストのボディ。
// いずれもクライアント申告の表示用の値で、長さの上限はProvisioner側で丸める。
type provisionRequest struct {
	DisplayName *string `json:"displayName"`
	Email       *string `json:"email"`
	AvatarRef   *string `json:"avatarRef"`
}

type provisionResponse struct {
	Result string `json:"result"`
}

// profileResponse は呼び出し元のプロフィール。
type profileResponse struct {
	UID            string  `json:"uid"`
	RelationshipID *string `json:"relationshipId"`
	DisplayName    *string `json:"displayName"`
	Email          *string `json:"email"`
	AvatarRef      *string `json:"avatarRef"`
	CreatedAt      string  `json:"createdAt"`
	LastSeenAt     string  `json:"lastSeenAt"`
}

// Provision はプロフィールを作成または更新する。
// POST /provision-account
func (h *AccountHandler) Provision(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req provisionRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.Provision(r.Context(), userID, account.ProfileInput{
		DisplayName:   req.DisplayName,
		Email:         req.Email,
		AvatarRef:     req.AvatarRef,
		VerifiedEmail: middleware.VerifiedEmailFromContext(r.Context()),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, provisionResponse{Result: string(result)})
}

// Me は呼び出し元のプロフィールを返す。
// GET /me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(user))
}

func toProfileResponse(u *model.User) profileResponse {
	return profileResponse{
		UID:            u.ID,
		RelationshipID: u.CoupleID,
		DisplayName:    u.DisplayName,
		Email:          u.Email,
		AvatarRef:      u.AvatarRef,
		CreatedAt:      u.CreatedAt.UTC().Format(time.RFC3339),
		LastSeenAt:     u.LastSeenAt.UTC().Format(time.RFC3339),
	}
}
