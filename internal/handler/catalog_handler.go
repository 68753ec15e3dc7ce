package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/libman/internal/catalog"
	"github.com/hitoshi/libman/internal/model"
)

// CatalogServiceInterface は会員・蔵書ハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	RegisterMember(ctx context.Context, cmd catalog.RegisterMemberCommand) (*model.Member, error)
	GetMember(ctx context.Context, memberID int64) (*model.Member, error)
	RegisterBook(ctx context.Context, cmd catalog.RegisterBookCommand) (*model.Book, error)
	GetBook(ctx context.Context, bookID int64) (*model.Book, error)
}

// EligibilityChecker は会員の貸出資格を判定するインターフェース。
type EligibilityChecker interface {
	CheckEligible(ctx context.Context, memberID int64) (*model.Eligibility, error)
}

// CatalogHandler は会員・蔵書のHTTPハンドラー。
type CatalogHandler struct {
	service     CatalogServiceInterface
	eligibility EligibilityChecker
}

// NewCatalogHandler はCatalogHandlerを生成する。
func NewCatalogHandler(service CatalogServiceInterface, eligibility EligibilityChecker) *CatalogHandler {
	return &CatalogHandler{service: service, eligibility: eligibility}
}

type registerMemberRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type registerBookRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN   string `json:"isbn"`
}

// RegisterMember は会員を登録する。
// POST /api/members
func (h *CatalogHandler) RegisterMember(w http.ResponseWriter, r *http.Request) {
	var req registerMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	member, err := h.service.RegisterMember(r.Context(), catalog.RegisterMemberCommand{Name: req.Name, Email: req.Email})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMemberResponse(member))
}

// GetMember は会員を1件返す。
// GET /api/members/{id}
func (h *CatalogHandler) GetMember(w http.ResponseWriter, r *http.Request) {
	memberID, err := pathID(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	member, err := h.service.GetMember(r.Context(), memberID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toMemberResponse(member))
}

// Eligibility は会員の貸出資格を返す。
// GET /api/members/{id}/eligibility
func (h *CatalogHandler) Eligibility(w http.ResponseWriter, r *http.Request) {
	memberID, err := pathID(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	e, err := h.eligibility.CheckEligible(r.Context(), memberID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, eligibilityResponse{
		MemberID:           e.MemberID,
		Blocked:            e.Blocked,
		UnpaidOverdueFines: e.UnpaidOverdueFines,
	})
}

// RegisterBook は蔵書を登録する。
// POST /api/books
func (h *CatalogHandler) RegisterBook(w http.ResponseWriter, r *http.Request) {
	var req registerBookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	book, err := h.service.RegisterBook(r.Context(), catalog.RegisterBookCommand{Title: req.Title, Author: req.Author, ISBN: req.ISBN})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookResponse(book))
}

// GetBook は蔵書を1件返す。
// GET /api/books/{id}
func (h *CatalogHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := pathID(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	book, err := h.service.GetBook(r.Context(), bookID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookResponse(book))
}
