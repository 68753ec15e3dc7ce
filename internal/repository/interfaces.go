// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/libman/internal/model"
)

// BookRepository は蔵書データの永続化インターフェース。
type BookRepository interface {
	// FindByID は指定IDの蔵書を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Book, error)

	// FindByIDForUpdate は指定IDの蔵書を行ロック付きで取得する。見つからない場合はnilを返す。
	FindByIDForUpdate(ctx context.Context, id int64) (*model.Book, error)

	// Create は蔵書を作成し、採番されたIDをbook.IDに設定する。
	Create(ctx context.Context, book *model.Book) error

	// UpdateAvailability は貸出可否を更新する。
	// book.Versionが保存済みのバージョンと一致しない場合はErrVersionConflictを返す。
	UpdateAvailability(ctx context.Context, book *model.Book) error
}

// MemberRepository は会員データの永続化インターフェース。
type MemberRepository interface {
	// FindByID は指定IDの会員を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Member, error)

	// Create は会員を作成し、採番されたIDをmember.IDに設定する。
	Create(ctx context.Context, member *model.Member) error
}

// LoanRepository は貸出データの永続化インターフェース。
type LoanRepository interface {
	// FindByID は指定IDの貸出を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Loan, error)

	// FindByIDForUpdate は指定IDの貸出を行ロック付きで取得する。見つからない場合はnilを返す。
	FindByIDForUpdate(ctx context.Context, id int64) (*model.Loan, error)

	// Create は貸出を作成する。同じ蔵書に未返却の貸出が存在する場合はErrUniqueViolationを返す。
	Create(ctx context.Context, loan *model.Loan) error

	// Update は返却日時・返却期限・延滞状態を更新する。
	// loan.Versionが保存済みのバージョンと一致しない場合はErrVersionConflictを返す。
	Update(ctx context.Context, loan *model.Loan) error

	// Count はフィルタに一致する貸出の件数を返す。
	Count(ctx context.Context, filter model.LoanFilter) (int, error)

	// List はフィルタに一致する貸出を新しい順に返す。
	List(ctx context.Context, filter model.LoanFilter, page model.Page) ([]*model.Loan, error)

	// ListOverdueCandidates は延滞判定の対象となる貸出を返す。
	// 未返却かつ未延滞でdue_at <= nowの貸出を (due_at, id) の昇順で最大limit件返す。
	// afterを指定した場合はそのキーより後ろの貸出だけを返す。
	ListOverdueCandidates(ctx context.Context, now time.Time, after *model.OverdueCandidate, limit int) ([]model.OverdueCandidate, error)
}

// FineRepository は罰金データの永続化インターフェース。
type FineRepository interface {
	// FindByID は指定IDの罰金を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Fine, error)

	// FindByIDForUpdate は指定IDの罰金を行ロック付きで取得する。見つからない場合はnilを返す。
	FindByIDForUpdate(ctx context.Context, id int64) (*model.Fine, error)

	// Create は罰金を作成する。
	// 同じ貸出・延滞遷移の罰金が既に存在する場合はErrUniqueViolationを返す。
	Create(ctx context.Context, fine *model.Fine) error

	// Update は支払い状態を更新する。
	// fine.Versionが保存済みのバージョンと一致しない場合はErrVersionConflictを返す。
	Update(ctx context.Context, fine *model.Fine) error

	// Count はフィルタに一致する罰金の件数を返す。
	Count(ctx context.Context, filter model.FineFilter) (int, error)

	// List はフィルタに一致する罰金を新しい順に返す。
	List(ctx context.Context, filter model.FineFilter, page model.Page) ([]*model.Fine, error)

	// CountUnpaidOverdueByMember は会員の未払い罰金のうち、延滞中の貸出に紐づく件数を返す。
	CountUnpaidOverdueByMember(ctx context.Context, memberID int64) (int, error)
}

// Repos はひとつの実行単位で使うリポジトリの組。
type Repos struct {
	Books   BookRepository
	Members MemberRepository
	Loans   LoanRepository
	Fines   FineRepository
}

// UnitOfWork は複数リポジトリへの操作をアトミックに実行する。
type UnitOfWork interface {
	// Repos はトランザクション外で使うリポジトリを返す。
	Repos() Repos

	// Do はfnをひとつのトランザクション内で実行する。
	// fnがエラーを返した場合はすべての変更をロールバックする。
	Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}

// HealthChecker はデータストアの疎通確認インターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Store はアプリケーションが使うデータストア。
type Store interface {
	UnitOfWork
	HealthChecker
	Close() error
}
