package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/libman/internal/circulation"
	"github.com/hitoshi/libman/internal/model"
)

// --- モック定義 ---

// mockLoanService はLoanServiceInterfaceのモック実装。
type mockLoanService struct {
	borrowFn          func(ctx context.Context, cmd circulation.BorrowCommand) (*model.Loan, error)
	returnFn          func(ctx context.Context, cmd circulation.ReturnCommand) (*model.Loan, error)
	renewFn           func(ctx context.Context, cmd circulation.RenewCommand) (*model.Loan, error)
	getLoanFn         func(ctx context.Context, loanID int64) (*model.Loan, error)
	listOpenLoansFn   func(ctx context.Context, q circulation.LoanQuery) (*model.PageResult[*model.Loan], error)
	listLoanHistoryFn func(ctx context.Context, q circulation.LoanQuery) (*model.PageResult[*model.Loan], error)
	listFinesByLoanFn func(ctx context.Context, loanID int64, page int) (*model.PageResult[*model.Fine], error)
}

func (m *mockLoanService) Borrow(ctx context.Context, cmd circulation.BorrowCommand) (*model.Loan, error) {
	if m.borrowFn != nil {
		return m.borrowFn(ctx, cmd)
	}
	return nil, nil
}

func (m *mockLoanService) Return(ctx context.Context, cmd circulation.ReturnCommand) (*model.Loan, error) {
	if m.returnFn != nil {
		return m.returnFn(ctx, cmd)
	}
	return nil, nil
}

func (m *mockLoanService) Renew(ctx context.Context, cmd circulation.RenewCommand) (*model.Loan, error) {
	if m.renewFn != nil {
		return m.renewFn(ctx, cmd)
	}
	return nil, nil
}

func (m *mockLoanService) GetLoan(ctx context.Context, loanID int64) (*model.Loan, error) {
	if m.getLoanFn != nil {
		return m.getLoanFn(ctx, loanID)
	}
	return nil, nil
}

func (m *mockLoanService) ListOpenLoans(ctx context.Context, q circulation.LoanQuery) (*model.PageResult[*model.Loan], error) {
	if m.listOpenLoansFn != nil {
		return m.listOpenLoansFn(ctx, q)
	}
	return &model.PageResult[*model.Loan]{}, nil
}

func (m *mockLoanService) ListLoanHistory(ctx context.Context, q circulation.LoanQuery) (*model.PageResult[*model.Loan], error) {
	if m.listLoanHistoryFn != nil {
		return m.listLoanHistoryFn(ctx, q)
	}
	return &model.PageResult[*model.Loan]{}, nil
}

func (m *mockLoanService) ListFinesByLoan(ctx context.Context, loanID int64, page int) (*model.PageResult[*model.Fine], error) {
	if m.listFinesByLoanFn != nil {
		return m.listFinesByLoanFn(ctx, loanID, page)
	}
	return &model.PageResult[*model.Fine]{}, nil
}

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func sampleLoan(id int64) *model.Loan {
	return &model.Loan{
		ID:         id,
		BookID:     10,
		MemberID:   20,
		BorrowedAt: testNow,
		DueAt:      testNow.Add(30 * 24 * time.Hour),
		Version:    1,
	}
}

// --- POST /api/loans テスト ---

func TestLoanHandler_Borrow_Success(t *testing.T) {
	svc := &mockLoanService{
		borrowFn: func(ctx context.Context, cmd circulation.BorrowCommand) (*model.Loan, error) {
			if cmd.BookID != 10 || cmd.MemberID != 20 {
				t.Errorf("cmd = %+v, want book 10 member 20", cmd)
			}
			return sampleLoan(1), nil
		},
	}
	h := NewLoanHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/loans", strings.NewReader(`{"book_id":10,"member_id":20}`))
	w := httptest.NewRecorder()
	h.Borrow(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	got := decodeBody[loanResponse](t, w)
	if got.ID != 1 {
		t.Errorf("id = %d, want 1", got.ID)
	}
	if got.Status != loanStatusOpen {
		t.Errorf("status = %q, want %q", got.Status, loanStatusOpen)
	}
	if !got.DueAt.Equal(testNow.Add(30 * 24 * time.Hour)) {
		t.Errorf("due_at = %v, want %v", got.DueAt, testNow.Add(30*24*time.Hour))
	}
	if got.ReturnedAt != nil {
		t.Errorf("returned_at = %v, want nil", got.ReturnedAt)
	}
}

func TestLoanHandler_Borrow_InvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "malformed json", body: `{"book_id":`},
		{name: "unknown field", body: `{"book_id":1,"member_id":2,"extra":true}`},
		{name: "trailing value", body: `{"book_id":1,"member_id":2}{}`},
		{name: "wrong type", body: `{"book_id":"one","member_id":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &mockLoanService{
				borrowFn: func(ctx context.Context, cmd circulation.BorrowCommand) (*model.Loan, error) {
					called = true
					return nil, nil
				},
			}
			h := NewLoanHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/loans", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.Borrow(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if called {
				t.Error("service should not be called for an invalid body")
			}
			body := parseAPIErrorResponse(t, w)
			if body["code"] != model.ErrCodeInvalidRequest {
				t.Errorf("code = %q, want %q", body["code"], model.ErrCodeInvalidRequest)
			}
		})
	}
}

func TestLoanHandler_Borrow_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "member not found", err: model.NewMemberNotFoundError(20), wantStatus: http.StatusNotFound, wantCode: model.ErrCodeMemberNotFound},
		{name: "book not found", err: model.NewBookNotFoundError(10), wantStatus: http.StatusNotFound, wantCode: model.ErrCodeBookNotFound},
		{name: "book unavailable", err: model.NewBookUnavailableError(10), wantStatus: http.StatusConflict, wantCode: model.ErrCodeBookUnavailable},
		{name: "member blocked", err: model.NewMemberBlockedError(20), wantStatus: http.StatusForbidden, wantCode: model.ErrCodeMemberBlocked},
		{name: "concurrent update", err: model.NewConcurrentUpdateError(errors.New("version")), wantStatus: http.StatusConflict, wantCode: model.ErrCodeConcurrentUpdate},
		{name: "store error", err: model.NewStoreError(errors.New("db down")), wantStatus: http.StatusInternalServerError, wantCode: model.ErrCodeStoreError},
		{name: "plain error", err: errors.New("unexpected"), wantStatus: http.StatusInternalServerError, wantCode: model.ErrCodeStoreError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockLoanService{
				borrowFn: func(ctx context.Context, cmd circulation.BorrowCommand) (*model.Loan, error) {
					return nil, tt.err
				},
			}
			h := NewLoanHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/loans", strings.NewReader(`{"book_id":10,"member_id":20}`))
			w := httptest.NewRecorder()
			h.Borrow(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if strings.Contains(w.Body.String(), "db down") {
				t.Error("internal cause must not be exposed")
			}
			body := parseAPIErrorResponse(t, w)
			if body["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
			}
		})
	}
}

// --- GET /api/loans テスト ---

func TestLoanHandler_ListOpen_PassesFilterAndPage(t *testing.T) {
	svc := &mockLoanService{
		listOpenLoansFn: func(ctx context.Context, q circulation.LoanQuery) (*model.PageResult[*model.Loan], error) {
			if q.MemberID == nil || *q.MemberID != 20 {
				t.Errorf("member_id = %v, want 20", q.MemberID)
			}
			if q.Page != 2 {
				t.Errorf("page = %d, want 2", q.Page)
			}
			return &model.PageResult[*model.Loan]{
				Total: 14,
				Page:  2,
				Size:  13,
				Data:  []*model.Loan{sampleLoan(1)},
			}, nil
		},
	}
	h := NewLoanHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/loans?member_id=20&page=2", nil)
	w := httptest.NewRecorder()
	h.ListOpen(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	got := decodeBody[pageResponse[loanResponse]](t, w)
	if got.Total != 14 || got.Page != 2 || got.PageSize != 13 {
		t.Errorf("page = %+v, want total 14 page 2 size 13", got)
	}
	if len(got.Data) != 1 || got.Data[0].ID != 1 {
		t.Errorf("data = %+v, want one loan with id 1", got.Data)
	}
}

func TestLoanHandler_ListOpen_DefaultsAndEmptyData(t *testing.T) {
	svc := &mockLoanService{
		listOpenLoansFn: func(ctx context.Context, q circulation.LoanQuery) (*model.PageResult[*model.Loan], error) {
			if q.MemberID != nil {
				t.Errorf("member_id = %v, want nil", *q.MemberID)
			}
			if q.Page != 1 {
				t.Errorf("page = %d, want 1", q.Page)
			}
			return &model.PageResult[*model.Loan]{Page: 1, Size: 13}, nil
		},
	}
	h := NewLoanHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/loans", nil)
	w := httptest.NewRecorder()
	h.ListOpen(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"data":[]`) {
		t.Errorf("body = %s, want an empty data array", w.Body.String())
	}
}

func TestLoanHandler_ListHistory_InvalidQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{name: "page zero", query: "?page=0"},
		{name: "page negative", query: "?page=-1"},
		{name: "page not a number", query: "?page=abc"},
		{name: "member id zero", query: "?member_id=0"},
		{name: "member id not a number", query: "?member_id=x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockLoanService{
				listLoanHistoryFn: func(ctx context.Context, q circulation.LoanQuery) (*model.PageResult[*model.Loan], error) {
					t.Error("service should not be called")
					return nil, nil
				},
			}
			h := NewLoanHandler(svc)

			req := httptest.NewRequest(http.MethodGet, "/api/loans/history"+tt.query, nil)
			w := httptest.NewRecorder()
			h.ListHistory(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

// --- GET /api/loans/{id} テスト ---

func TestLoanHandler_Get(t *testing.T) {
	svc := &mockLoanService{
		getLoanFn: func(ctx context.Context, loanID int64) (*model.Loan, error) {
			if loanID == 404 {
				return nil, model.NewLoanNotFoundError(loanID)
			}
			returned := testNow.Add(time.Hour)
			loan := sampleLoan(loanID)
			loan.ReturnedAt = &returned
			return loan, nil
		},
	}
	h := NewLoanHandler(svc)

	t.Run("returned loan", func(t *testing.T) {
		req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/loans/7", nil), "id", "7")
		w := httptest.NewRecorder()
		h.Get(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		got := decodeBody[loanResponse](t, w)
		if got.Status != loanStatusReturned {
			t.Errorf("status = %q, want %q", got.Status, loanStatusReturned)
		}
		if got.ReturnedAt == nil {
			t.Error("returned_at should be set")
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/loans/404", nil), "id", "404")
		w := httptest.NewRecorder()
		h.Get(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
		if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeLoanNotFound {
			t.Errorf("code = %q, want %q", body["code"], model.ErrCodeLoanNotFound)
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/loans/abc", nil), "id", "abc")
		w := httptest.NewRecorder()
		h.Get(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// --- POST /api/loans/{id}/return, /renew テスト ---

func TestLoanHandler_Return(t *testing.T) {
	svc := &mockLoanService{
		returnFn: func(ctx context.Context, cmd circulation.ReturnCommand) (*model.Loan, error) {
			if cmd.LoanID != 3 {
				t.Errorf("loanID = %d, want 3", cmd.LoanID)
			}
			return nil, model.NewLoanClosedError(cmd.LoanID)
		},
	}
	h := NewLoanHandler(svc)

	req := withChiURLParam(httptest.NewRequest(http.MethodPost, "/api/loans/3/return", nil), "id", "3")
	w := httptest.NewRecorder()
	h.Return(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeLoanClosed {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeLoanClosed)
	}
}

func TestLoanHandler_Renew_Success(t *testing.T) {
	newDue := testNow.Add(60 * 24 * time.Hour)
	svc := &mockLoanService{
		renewFn: func(ctx context.Context, cmd circulation.RenewCommand) (*model.Loan, error) {
			loan := sampleLoan(cmd.LoanID)
			loan.DueAt = newDue
			return loan, nil
		},
	}
	h := NewLoanHandler(svc)

	req := withChiURLParam(httptest.NewRequest(http.MethodPost, "/api/loans/5/renew", nil), "id", "5")
	w := httptest.NewRecorder()
	h.Renew(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	got := decodeBody[loanResponse](t, w)
	if !got.DueAt.Equal(newDue) {
		t.Errorf("due_at = %v, want %v", got.DueAt, newDue)
	}
}

// --- GET /api/loans/{id}/fines テスト ---

func TestLoanHandler_ListFines(t *testing.T) {
	svc := &mockLoanService{
		listFinesByLoanFn: func(ctx context.Context, loanID int64, page int) (*model.PageResult[*model.Fine], error) {
			if loanID != 9 || page != 1 {
				t.Errorf("loanID = %d, page = %d, want 9, 1", loanID, page)
			}
			return &model.PageResult[*model.Fine]{
				Total: 1,
				Page:  1,
				Size:  10,
				Data:  []*model.Fine{sampleFine(1, false)},
			}, nil
		},
	}
	h := NewLoanHandler(svc)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/loans/9/fines", nil), "id", "9")
	w := httptest.NewRecorder()
	h.ListFines(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	got := decodeBody[pageResponse[fineResponse]](t, w)
	if len(got.Data) != 1 || got.Data[0].Amount != "5.00" {
		t.Errorf("data = %+v, want one fine of 5.00", got.Data)
	}
}
