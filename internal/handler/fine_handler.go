package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/libman/internal/circulation"
	"github.com/hitoshi/libman/internal/model"
)

// FineServiceInterface は罰金ハンドラーが必要とするサービスインターフェース。
type FineServiceInterface interface {
	GetFine(ctx context.Context, fineID int64) (*model.Fine, error)
	ListFines(ctx context.Context, q circulation.FineQuery) (*model.PageResult[*model.Fine], error)
	PayFine(ctx context.Context, cmd circulation.PayFineCommand) (*model.Fine, error)
}

// FineHandler は罰金のHTTPハンドラー。
type FineHandler struct {
	service FineServiceInterface
}

// NewFineHandler はFineHandlerを生成する。
func NewFineHandler(service FineServiceInterface) *FineHandler {
	return &FineHandler{service: service}
}

// List は罰金一覧を返す。
// GET /api/fines?loan_id=&member_id=&page=
func (h *FineHandler) List(w http.ResponseWriter, r *http.Request) {
	loanID, err := queryOptionalID(r, "loan_id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	memberID, err := queryOptionalID(r, "member_id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	page, err := queryPage(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.ListFines(r.Context(), circulation.FineQuery{LoanID: loanID, MemberID: memberID, Page: page})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPageResponse(result, toFineResponse))
}

// Get は罰金を1件返す。
// GET /api/fines/{id}
func (h *FineHandler) Get(w http.ResponseWriter, r *http.Request) {
	fineID, err := pathID(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	fine, err := h.service.GetFine(r.Context(), fineID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toFineResponse(fine))
}

// Pay は罰金を支払い済みにする。
// POST /api/fines/{id}/pay
func (h *FineHandler) Pay(w http.ResponseWriter, r *http.Request) {
	fineID, err := pathID(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	fine, err := h.service.PayFine(r.Context(), circulation.PayFineCommand{FineID: fineID})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toFineResponse(fine))
}
