package circulation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/libman/internal/model"
)

// 貸出の状態遷移:
//
//	open(未延滞) --延滞判定(now >= due)--> open(延滞) --罰金支払い--> open(未延滞)
//	open(*) --返却--> closed
//
// closedは終端で、以後どの遷移も受け付けない。
// 延長は延滞フラグを変更しない。

// NewLoan は返却期限をnow+貸出期間とした未返却の貸出を生成する。
func NewLoan(bookID, memberID int64, now time.Time, policy Policy) *model.Loan {
	return &model.Loan{
		BookID:     bookID,
		MemberID:   memberID,
		BorrowedAt: now,
		DueAt:      now.Add(policy.LoanPeriod),
		UpdatedAt:  now,
	}
}

// ApplyReturn は貸出を返却済みにする。延滞フラグは変更しない。
func ApplyReturn(loan *model.Loan, now time.Time) error {
	if !loan.IsOpen() {
		return model.NewLoanClosedError(loan.ID)
	}
	returnedAt := now
	loan.ReturnedAt = &returnedAt
	loan.UpdatedAt = now
	return nil
}

// ApplyRenew は返却期限を現在の期限から貸出期間だけ延ばす。
func ApplyRenew(loan *model.Loan, now time.Time, policy Policy) error {
	if !loan.IsOpen() {
		return model.NewLoanClosedError(loan.ID)
	}
	loan.DueAt = loan.DueAt.Add(policy.LoanPeriod)
	loan.UpdatedAt = now
	return nil
}

// ApplyOverdue は返却期限を過ぎた未延滞の貸出を延滞にする。
// 遷移した場合のみtrueを返す。延滞済み・返却済み・期限前の貸出は変更しない。
func ApplyOverdue(loan *model.Loan, now time.Time) bool {
	if !loan.IsOpen() || loan.Overdue || now.Before(loan.DueAt) {
		return false
	}
	loan.Overdue = true
	loan.OverdueCount++
	loan.UpdatedAt = now
	return true
}

// NewFine は貸出の現在の延滞遷移に対応する未払いの罰金を生成する。
func NewFine(loan *model.Loan, amount decimal.Decimal, runID string, now time.Time) *model.Fine {
	return &model.Fine{
		LoanID:     loan.ID,
		MemberID:   loan.MemberID,
		Amount:     amount,
		OverdueSeq: loan.OverdueCount,
		SweepRunID: runID,
		CreatedAt:  now,
	}
}

// ApplyPayment は罰金を支払い済みにする。
// 貸出が未返却であれば返却期限をnow+貸出期間に再設定して延滞を解除し、trueを返す。
// 返却済みの貸出は変更しない。
func ApplyPayment(fine *model.Fine, loan *model.Loan, now time.Time, policy Policy) (bool, error) {
	if fine.Paid {
		return false, model.NewFineAlreadyPaidError(fine.ID)
	}
	paidAt := now
	fine.Paid = true
	fine.PaidAt = &paidAt

	if loan == nil || !loan.IsOpen() {
		return false, nil
	}
	loan.DueAt = now.Add(policy.LoanPeriod)
	loan.Overdue = false
	loan.UpdatedAt = now
	return true, nil
}

// CheckOut は蔵書を貸出中にする。
func CheckOut(book *model.Book, now time.Time) error {
	if !book.IsAvailable() {
		return model.NewBookUnavailableError(book.ID)
	}
	book.AvailabilityStatus = model.AvailabilityCheckedOut
	book.UpdatedAt = now
	return nil
}

// CheckIn は蔵書を貸出可能にする。
func CheckIn(book *model.Book, now time.Time) {
	book.AvailabilityStatus = model.AvailabilityAvailable
	book.UpdatedAt = now
}
