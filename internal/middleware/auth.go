// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/twogether/internal/auth"
	"github.com/hitoshi/twogether/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストに検証済みUIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// verifiedEmailContextKey はIdPが確認済みのメールアドレスを格納するためのキー。
	verifiedEmailContextKey = contextKey("verified_email")
	// userSlotContextKey はログミドルウェアが認証後のUIDを受け取るためのキー。
	userSlotContextKey = contextKey("user_slot")
)

// userSlot は外側のミドルウェアに認証結果を伝える入れ物。
type userSlot struct {
	uid string
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 検証済みUIDをリクエストコンテキストに注入する。
// トークンが無い場合はUNAUTHENTICATED、IdPが拒否した場合はINVALID_CREDENTIALを401で返す。
func NewAuthMiddleware(verifier auth.TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Authorizationヘッダーからトークンを取得
			token, err := auth.ExtractBearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeAuthError(w, err)
				return
			}

			// 2. トークンを検証
			identity, err := verifier.Verify(r.Context(), token)
			if err != nil {
				writeAuthError(w, err)
				return
			}

			// 3. 検証済みUIDをコンテキストに注入
			if slot, ok := r.Context().Value(userSlotContextKey).(*userSlot); ok {
				slot.uid = identity.UID
			}
			ctx := ContextWithUserID(r.Context(), identity.UID)
			if identity.EmailVerified && identity.Email != "" {
				ctx = ContextWithVerifiedEmail(ctx, identity.Email)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError は認証エラーを401で返す。APIError以外は一般的な認証エラーとして扱う。
func writeAuthError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("unexpected auth error", slog.String("error", err.Error()))
		apiErr = model.NewInvalidCredentialError()
	}
	WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
}

// UserIDFromContext はリクエストコンテキストから検証済みUIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", model.NewUnauthenticatedError()
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにUIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// VerifiedEmailFromContext はトークンに含まれていた確認済みメールアドレスを返す。
// 未確認またはクレームが無い場合は空文字を返す。
func VerifiedEmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(verifiedEmailContextKey).(string)
	return email
}

// ContextWithVerifiedEmail はコンテキストに確認済みメールアドレスを注入する。
func ContextWithVerifiedEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, verifiedEmailContextKey, email)
}
