package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/libman/internal/circulation"
	"github.com/hitoshi/libman/internal/model"
)

// LoanServiceInterface は貸出ハンドラーが必要とするサービスインターフェース。
type LoanServiceInterface interface {
	Borrow(ctx context.Context, cmd circulation.BorrowCommand) (*model.Loan, error)
	Return(ctx context.Context, cmd circulation.ReturnCommand) (*model.Loan, error)
	Renew(ctx context.Context, cmd circulation.RenewCommand) (*model.Loan, error)
	GetLoan(ctx context.Context, loanID int64) (*model.Loan, error)
	ListOpenLoans(ctx context.Context, q circulation.LoanQuery) (*model.PageResult[*model.Loan], error)
	ListLoanHistory(ctx context.Context, q circulation.LoanQuery) (*model.PageResult[*model.Loan], error)
	ListFinesByLoan(ctx context.Context, loanID int64, page int) (*model.PageResult[*model.Fine], error)
}

// LoanHandler は貸出のHTTPハンドラー。
type LoanHandler struct {
	service LoanServiceInterface
}

// NewLoanHandler はLoanHandlerを生成する。
func NewLoanHandler(service LoanServiceInterface) *LoanHandler {
	return &LoanHandler{service: service}
}

// borrowRequest は貸出リクエストのボディ。
type borrowRequest struct {
	BookID   int64 `json:"book_id"`
	MemberID int64 `json:"member_id"`
}

// Borrow は蔵書を貸し出す。
// POST /api/loans
func (h *LoanHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	loan, err := h.service.Borrow(r.Context(), circulation.BorrowCommand{BookID: req.BookID, MemberID: req.MemberID})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toLoanResponse(loan))
}

// ListOpen は未返却の貸出一覧を返す。
// GET /api/loans?member_id=&page=
func (h *LoanHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.ListOpenLoans)
}

// ListHistory は返却済みを含む貸出履歴を返す。
// GET /api/loans/history?member_id=&page=
func (h *LoanHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.ListLoanHistory)
}

func (h *LoanHandler) list(w http.ResponseWriter, r *http.Request, fetch func(context.Context, circulation.LoanQuery) (*model.PageResult[*model.Loan], error)) {
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

	result, err := fetch(r.Context(), circulation.LoanQuery{MemberID: memberID, Page: page})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPageResponse(result, toLoanResponse))
}

// Get は貸出を1件返す。
// GET /api/loans/{id}
func (h *LoanHandler) Get(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	loan, err := h.service.GetLoan(r.Context(), loanID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoanResponse(loan))
}

// Return は貸出を返却済みにする。
// POST /api/loans/{id}/return
func (h *LoanHandler) Return(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	loan, err := h.service.Return(r.Context(), circulation.ReturnCommand{LoanID: loanID})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoanResponse(loan))
}

// Renew は返却期限を延長する。
// POST /api/loans/{id}/renew
func (h *LoanHandler) Renew(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	loan, err := h.service.Renew(r.Context(), circulation.RenewCommand{LoanID: loanID})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoanResponse(loan))
}

// ListFines は貸出に紐づく罰金一覧を返す。
// GET /api/loans/{id}/fines?page=
func (h *LoanHandler) ListFines(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	page, err := queryPage(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.ListFinesByLoan(r.Context(), loanID, page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPageResponse(result, toFineResponse))
}
