package circulation

import (
	"fmt"
	"math"

	"github.com/hitoshi/libman/internal/model"
)

// BorrowCommand は貸出要求。
type BorrowCommand struct {
	BookID   int64
	MemberID int64
}

// Validate は入力値を検証する。
func (c BorrowCommand) Validate() error {
	if c.BookID <= 0 {
		return model.NewValidationError("book_id must be a positive integer")
	}
	if c.MemberID <= 0 {
		return model.NewValidationError("member_id must be a positive integer")
	}
	return nil
}

// ReturnCommand は返却要求。
type ReturnCommand struct {
	LoanID int64
}

// Validate は入力値を検証する。
func (c ReturnCommand) Validate() error {
	return validateID("loan_id", c.LoanID)
}

// RenewCommand は延長要求。
type RenewCommand struct {
	LoanID int64
}

// Validate は入力値を検証する。
func (c RenewCommand) Validate() error {
	return validateID("loan_id", c.LoanID)
}

// PayFineCommand は罰金支払い要求。
type PayFineCommand struct {
	FineID int64
}

// Validate は入力値を検証する。
func (c PayFineCommand) Validate() error {
	return validateID("fine_id", c.FineID)
}

// LoanQuery は貸出一覧の検索条件。Pageは1始まり。
type LoanQuery struct {
	MemberID *int64
	Page     int
}

// FineQuery は罰金一覧の検索条件。Pageは1始まり。
type FineQuery struct {
	LoanID   *int64
	MemberID *int64
	Page     int
}

func validateID(field string, id int64) error {
	if id <= 0 {
		return model.NewValidationError(field + " must be a positive integer")
	}
	return nil
}

func validateOptionalID(field string, id *int64) error {
	if id == nil {
		return nil
	}
	return validateID(field, *id)
}

// validatePage はページ番号が1以上で、スキップ件数がintに収まることを検証する。
func validatePage(page, size int) error {
	if page < 1 {
		return model.NewValidationError("page must be 1 or greater")
	}
	if size < 1 {
		size = 1
	}
	if page-1 > math.MaxInt/size {
		return model.NewValidationError(fmt.Sprintf("page is out of range: %d", page))
	}
	return nil
}
