package handler

import (
	"time"

	"github.com/hitoshi/libman/internal/model"
)

// 貸出のAPI上の状態
const (
	loanStatusOpen     = "open"
	loanStatusReturned = "returned"
)

// loanResponse は貸出のAPIレスポンス。
type loanResponse struct {
	ID         int64      `json:"id"`
	BookID     int64      `json:"book_id"`
	MemberID   int64      `json:"member_id"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueAt      time.Time  `json:"due_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	Overdue    bool       `json:"overdue"`
	Status     string     `json:"status"`
}

func toLoanResponse(l *model.Loan) loanResponse {
	status := loanStatusOpen
	if !l.IsOpen() {
		status = loanStatusReturned
	}
	return loanResponse{
		ID:         l.ID,
		BookID:     l.BookID,
		MemberID:   l.MemberID,
		BorrowedAt: l.BorrowedAt,
		DueAt:      l.DueAt,
		ReturnedAt: l.ReturnedAt,
		Overdue:    l.Overdue,
		Status:     status,
	}
}

// fineResponse は罰金のAPIレスポンス。金額は小数2桁の文字列。
type fineResponse struct {
	ID         int64      `json:"id"`
	LoanID     int64      `json:"loan_id"`
	MemberID   int64      `json:"member_id"`
	Amount     string     `json:"amount"`
	Paid       bool       `json:"paid"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	SweepRunID string     `json:"sweep_run_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toFineResponse(f *model.Fine) fineResponse {
	return fineResponse{
		ID:         f.ID,
		LoanID:     f.LoanID,
		MemberID:   f.MemberID,
		Amount:     f.Amount.StringFixed(2),
		Paid:       f.Paid,
		PaidAt:     f.PaidAt,
		SweepRunID: f.SweepRunID,
		CreatedAt:  f.CreatedAt,
	}
}

// memberResponse は会員のAPIレスポンス。
type memberResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func toMemberResponse(m *model.Member) memberResponse {
	return memberResponse{ID: m.ID, Name: m.Name, Email: m.Email, CreatedAt: m.CreatedAt}
}

// bookResponse は蔵書のAPIレスポンス。
type bookResponse struct {
	ID                 int64     `json:"id"`
	Title              string    `json:"title"`
	Author             string    `json:"author,omitempty"`
	ISBN               string    `json:"isbn,omitempty"`
	AvailabilityStatus string    `json:"availability_status"`
	CreatedAt          time.Time `json:"created_at"`
}

func toBookResponse(b *model.Book) bookResponse {
	return bookResponse{
		ID:                 b.ID,
		Title:              b.Title,
		Author:             b.Author,
		ISBN:               b.ISBN,
		AvailabilityStatus: string(b.AvailabilityStatus),
		CreatedAt:          b.CreatedAt,
	}
}

// eligibilityResponse は貸出資格のAPIレスポンス。
type eligibilityResponse struct {
	MemberID           int64 `json:"member_id"`
	Blocked            bool  `json:"blocked"`
	UnpaidOverdueFines int   `json:"unpaid_overdue_fines"`
}

// pageResponse はページング結果のAPIレスポンス。
type pageResponse[T any] struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Data     []T `json:"data"`
}

// toPageResponse はページング結果の各要素を変換する。
func toPageResponse[S, T any](p *model.PageResult[S], convert func(S) T) pageResponse[T] {
	data := make([]T, len(p.Data))
	for i, v := range p.Data {
		data[i] = convert(v)
	}
	return pageResponse[T]{Total: p.Total, Page: p.Page, PageSize: p.Size, Data: data}
}
