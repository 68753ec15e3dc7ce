package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの種別。HTTPステータスへの対応付けに使う。
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindBlocked    ErrorKind = "blocked"
	KindValidation ErrorKind = "validation"
	KindStore      ErrorKind = "store"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string    // エラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: loan, fine, catalog, validation, system
	Action   string    // ユーザー向け対処方法
	Kind     ErrorKind // エラー種別
	Err      error     // 内部原因（レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は内部原因を返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf はエラーチェーン中のAPIErrorの種別を返す。
// APIErrorを含まない場合はKindStoreとみなす。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindStore
}

// 定義済みエラーコード
const (
	ErrCodeLoanNotFound      = "LOAN_NOT_FOUND"
	ErrCodeFineNotFound      = "FINE_NOT_FOUND"
	ErrCodeBookNotFound      = "BOOK_NOT_FOUND"
	ErrCodeMemberNotFound    = "MEMBER_NOT_FOUND"
	ErrCodeBookUnavailable   = "BOOK_UNAVAILABLE"
	ErrCodeLoanClosed        = "LOAN_CLOSED"
	ErrCodeFineAlreadyPaid   = "FINE_ALREADY_PAID"
	ErrCodeMemberBlocked     = "MEMBER_BLOCKED"
	ErrCodeConcurrentUpdate  = "CONCURRENT_UPDATE"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeStoreError        = "STORE_ERROR"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeSweepInProgress   = "SWEEP_IN_PROGRESS"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
)

// NewLoanNotFoundError は貸出未検出エラーを生成する。
func NewLoanNotFoundError(loanID int64) *APIError {
	return &APIError{
		Code:     ErrCodeLoanNotFound,
		Message:  fmt.Sprintf("loan not found: %d", loanID),
		Category: "loan",
		Action:   "貸出IDを確認してください。",
		Kind:     KindNotFound,
	}
}

// NewFineNotFoundError は罰金未検出エラーを生成する。
func NewFineNotFoundError(fineID int64) *APIError {
	return &APIError{
		Code:     ErrCodeFineNotFound,
		Message:  fmt.Sprintf("fine not found: %d", fineID),
		Category: "fine",
		Action:   "罰金IDを確認してください。",
		Kind:     KindNotFound,
	}
}

// NewBookNotFoundError は蔵書未検出エラーを生成する。
func NewBookNotFoundError(bookID int64) *APIError {
	return &APIError{
		Code:     ErrCodeBookNotFound,
		Message:  fmt.Sprintf("book not found: %d", bookID),
		Category: "catalog",
		Action:   "蔵書IDを確認してください。",
		Kind:     KindNotFound,
	}
}

// NewMemberNotFoundError は会員未検出エラーを生成する。
func NewMemberNotFoundError(memberID int64) *APIError {
	return &APIError{
		Code:     ErrCodeMemberNotFound,
		Message:  fmt.Sprintf("member not found: %d", memberID),
		Category: "catalog",
		Action:   "会員IDを確認してください。",
		Kind:     KindNotFound,
	}
}

// NewBookUnavailableError は蔵書が貸出中の場合のエラーを生成する。
func NewBookUnavailableError(bookID int64) *APIError {
	return &APIError{
		Code:     ErrCodeBookUnavailable,
		Message:  fmt.Sprintf("book is not available: %d", bookID),
		Category: "loan",
		Action:   "返却されるまでお待ちください。",
		Kind:     KindConflict,
	}
}

// NewLoanClosedError は返却済みの貸出を操作しようとした場合のエラーを生成する。
func NewLoanClosedError(loanID int64) *APIError {
	return &APIError{
		Code:     ErrCodeLoanClosed,
		Message:  fmt.Sprintf("loan already returned: %d", loanID),
		Category: "loan",
		Action:   "返却済みの貸出は返却・延長できません。",
		Kind:     KindConflict,
	}
}

// NewFineAlreadyPaidError は支払い済みの罰金を再度支払おうとした場合のエラーを生成する。
func NewFineAlreadyPaidError(fineID int64) *APIError {
	return &APIError{
		Code:     ErrCodeFineAlreadyPaid,
		Message:  fmt.Sprintf("fine already paid: %d", fineID),
		Category: "fine",
		Action:   "罰金一覧で支払い状況を確認してください。",
		Kind:     KindConflict,
	}
}

// NewMemberBlockedError は未払いの延滞罰金がある会員の操作を拒否するエラーを生成する。
func NewMemberBlockedError(memberID int64) *APIError {
	return &APIError{
		Code:     ErrCodeMemberBlocked,
		Message:  fmt.Sprintf("member has unpaid overdue fines: %d", memberID),
		Category: "loan",
		Action:   "未払いの罰金を支払ってから再度お試しください。",
		Kind:     KindBlocked,
	}
}

// NewConcurrentUpdateError は同時更新の競合エラーを生成する。
func NewConcurrentUpdateError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeConcurrentUpdate,
		Message:  "the resource was modified concurrently",
		Category: "system",
		Action:   "最新の状態を取得してから再度お試しください。",
		Kind:     KindConflict,
		Err:      err,
	}
}

// NewDuplicateResourceError は一意制約違反のエラーを生成する。
func NewDuplicateResourceError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateResource,
		Message:  fmt.Sprintf("%s already exists", resource),
		Category: "catalog",
		Action:   "登録済みの内容を確認してください。",
		Kind:     KindConflict,
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("invalid request: %s", reason),
		Category: "validation",
		Action:   "リクエストの内容を確認してください。",
		Kind:     KindValidation,
	}
}

// NewSweepInProgressError は延滞スイープが実行中の場合のエラーを生成する。
func NewSweepInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeSweepInProgress,
		Message:  "an overdue sweep is already running",
		Category: "system",
		Action:   "スイープの完了を待ってから再度お試しください。",
		Kind:     KindConflict,
	}
}

// NewStoreError はデータストア障害のエラーを生成する。
// 内部原因はログにのみ出力し、レスポンスには含めない。
func NewStoreError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreError,
		Message:  "internal store error",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Kind:     KindStore,
		Err:      err,
	}
}

// NewInternalError はハンドラ内のpanicなどストア以外の原因で処理できなかった場合のエラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "the request could not be processed",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Kind:     KindStore,
	}
}
