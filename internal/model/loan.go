package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Loan は1件の貸出を表す。
// ReturnedAtがnilの間は貸出中（open）、設定後は返却済み（closed）で以後不変。
type Loan struct {
	ID         int64
	BookID     int64
	MemberID   int64
	BorrowedAt time.Time
	DueAt      time.Time
	ReturnedAt *time.Time
	Overdue    bool
	// OverdueCount はこれまでに延滞へ遷移した回数。罰金の一意性キーに使う。
	OverdueCount int
	Version      int64
	UpdatedAt    time.Time
}

// IsOpen は未返却かどうかを返す。
func (l *Loan) IsOpen() bool {
	return l.ReturnedAt == nil
}

// LoanFilter は貸出一覧の絞り込み条件。
type LoanFilter struct {
	MemberID *int64
	OpenOnly bool
}

// OverdueCandidate は延滞判定の対象となる貸出と、その並び順のキー。
// 延滞候補は (DueAt, LoanID) の昇順で取得し、最後の要素を次の取得のカーソルに使う。
type OverdueCandidate struct {
	LoanID int64
	DueAt  time.Time
}

// Fine は延滞1回につき1件発生する罰金を表す。
// 未払いで作成され、支払い済みになった後は変更されない。
type Fine struct {
	ID       int64
	LoanID   int64
	MemberID int64
	Amount   decimal.Decimal
	Paid     bool
	PaidAt   *time.Time
	// OverdueSeq は罰金を発生させた延滞遷移の番号（Loan.OverdueCount）。
	OverdueSeq int
	SweepRunID string
	Version    int64
	CreatedAt  time.Time
}

// FineFilter は罰金一覧の絞り込み条件。
type FineFilter struct {
	LoanID   *int64
	MemberID *int64
}

// Eligibility は会員の貸出資格の判定結果。
// 保存されず、常に貸出と罰金の状態から再計算される。
type Eligibility struct {
	MemberID           int64
	Blocked            bool
	UnpaidOverdueFines int
}
