package handler

import (
	"context"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/hitoshi/twogether/internal/partner"
)

// PartnerLinkerInterface はパートナー連携ハンドラーが必要とするサービスインターフェース。
type PartnerLinkerInterface interface {
	// Link は呼び出し元とメールアドレスで指定したパートナーを連携する。
	Link(ctx context.Context, callerUID string, in partner.LinkInput) (*partner.LinkResult, error)
}

// PartnerHandler はパートナー連携のHTTPハンドラー。
type PartnerHandler struct {
	linker PartnerLinkerInterface
}

// NewPartnerHandler はPartnerHandlerを生成する。
func NewPartnerHandler(linker PartnerLinkerInterface) *PartnerHandler {
	return &PartnerHandler{linker: linker}
}

// linkPartnerRequest はパートナー連携リクエストのボディ。
type linkPartnerRequest struct {
	PartnerEmail    string `json:"partnerEmail"`
	AnniversaryDate string `json:"anniversaryDate"`
}

func (r linkPartnerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PartnerEmail, validation.Required, validation.Length(1, 320)),
	)
}

type linkPartnerResponse struct {
	RelationshipID string `json:"relationshipId"`
	Linked         bool   `json:"linked"`
}

// LinkPartner はパートナー連携を処理する。
// メールアドレスの形式チェックと正規化はLinker側で行う。
// POST /link-partner
func (h *PartnerHandler) LinkPartner(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req linkPartnerRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		handleServiceError(w, r, err)
		return
	}
	req.PartnerEmail = strings.TrimSpace(req.PartnerEmail)
	if err := req.Validate(); err != nil {
		handleServiceError(w, r, validationError(err))
		return
	}

	anniversary, err := parseOptionalDate("anniversaryDate", req.AnniversaryDate)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	in := partner.LinkInput{PartnerEmail: req.PartnerEmail, AnniversaryDate: anniversary}

	result, err := h.linker.Link(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, linkPartnerResponse{
		RelationshipID: result.RelationshipID,
		Linked:         result.Linked,
	})
}
