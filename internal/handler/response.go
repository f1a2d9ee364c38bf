package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/hitoshi/twogether/internal/middleware"
	"github.com/hitoshi/twogether/internal/model"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 64 << 10

// dateLayout は日付のみの入力フォーマット。
const dateLayout = "2006-01-02"

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// APIError以外のエラーは詳細をログにのみ記録し、一般的な500を返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	slog.ErrorContext(r.Context(), "internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthenticated, model.ErrCodeInvalidCredential:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidRequest, model.ErrCodeSelfLinkForbidden:
		return http.StatusBadRequest
	case model.ErrCodePartnerNotFound, model.ErrCodeProfileNotFound, model.ErrCodeGoalNotFound:
		return http.StatusNotFound
	case model.ErrCodePartnerAlreadyLinked, model.ErrCodeCallerAlreadyLinked, model.ErrCodeNotLinked:
		return http.StatusConflict
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// requireUserID は認証ミドルウェアが注入したUIDを返す。
// 取得できない場合は401を書き込み、falseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return "", false
	}
	return userID, true
}

// decodeJSON はリクエストボディをdstにデコードする。
// allowEmptyがtrueの場合、空のボディはエラーにしない。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return model.NewInvalidRequestError("body", "JSONの形式が正しくありません")
	}
	return nil
}

// validationError はozzo-validationのエラーをINVALID_REQUESTに変換する。
// 複数フィールドのエラーがある場合はフィールド名の昇順で最初のものを返す。
func validationError(err error) error {
	var errs validation.Errors
	if !errors.As(err, &errs) || len(errs) == 0 {
		var internal validation.InternalError
		if errors.As(err, &internal) {
			return err
		}
		return model.NewInvalidRequestError("body", err.Error())
	}

	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return model.NewInvalidRequestError(fields[0], errs[fields[0]].Error())
}

// parseOptionalDate はfieldの値をYYYY-MM-DDまたはRFC3339形式の日時として解釈する。空文字はnilを返す。
func parseOptionalDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, model.NewInvalidRequestError(field, "must be a date (YYYY-MM-DD) or an RFC3339 timestamp")
	}
	return &t, nil
}

// parseDate はYYYY-MM-DDまたはRFC3339形式の文字列をUTCの時刻に変換する。
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// formatTimePtr はnil許容の時刻をRFC3339文字列に変換する。
func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
