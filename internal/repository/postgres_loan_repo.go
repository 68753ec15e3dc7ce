package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/libman/internal/model"
)

type loanRow struct {
	ID           int64        `db:"id"`
	BookID       int64        `db:"book_id"`
	MemberID     int64        `db:"member_id"`
	BorrowedAt   time.Time    `db:"borrowed_at"`
	DueAt        time.Time    `db:"due_at"`
	ReturnedAt   sql.NullTime `db:"returned_at"`
	Overdue      bool         `db:"overdue"`
	OverdueCount int          `db:"overdue_count"`
	Version      int64        `db:"version"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

func (r loanRow) toModel() *model.Loan {
	loan := &model.Loan{
		ID:           r.ID,
		BookID:       r.BookID,
		MemberID:     r.MemberID,
		BorrowedAt:   r.BorrowedAt,
		DueAt:        r.DueAt,
		Overdue:      r.Overdue,
		OverdueCount: r.OverdueCount,
		Version:      r.Version,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.ReturnedAt.Valid {
		t := r.ReturnedAt.Time
		loan.ReturnedAt = &t
	}
	return loan
}

var loanColumns = []interface{}{
	"id", "book_id", "member_id", "borrowed_at", "due_at", "returned_at",
	"overdue", "overdue_count", "version", "updated_at",
}

const selectLoanSQL = `SELECT id, book_id, member_id, borrowed_at, due_at, returned_at,
	        overdue, overdue_count, version, updated_at
	 FROM loans WHERE id = $1`

// PostgresLoanRepo はPostgreSQLを使用した貸出リポジトリ。
type PostgresLoanRepo struct {
	db sqlx.ExtContext
}

// NewPostgresLoanRepo はPostgresLoanRepoを生成する。
func NewPostgresLoanRepo(db sqlx.ExtContext) *PostgresLoanRepo {
	return &PostgresLoanRepo{db: db}
}

// FindByID は指定IDの貸出を取得する。見つからない場合はnilを返す。
func (r *PostgresLoanRepo) FindByID(ctx context.Context, id int64) (*model.Loan, error) {
	return r.find(ctx, selectLoanSQL, id)
}

// FindByIDForUpdate は指定IDの貸出を行ロック付きで取得する。
func (r *PostgresLoanRepo) FindByIDForUpdate(ctx context.Context, id int64) (*model.Loan, error) {
	return r.find(ctx, selectLoanSQL+" FOR UPDATE", id)
}

func (r *PostgresLoanRepo) find(ctx context.Context, query string, id int64) (*model.Loan, error) {
	var row loanRow
	err := sqlx.GetContext(ctx, r.db, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("貸出の取得に失敗しました: %w", err)
	}
	return row.toModel(), nil
}

// Create は貸出を作成し、採番されたIDをloan.IDに設定する。
func (r *PostgresLoanRepo) Create(ctx context.Context, loan *model.Loan) error {
	if loan.Version == 0 {
		loan.Version = 1
	}
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO loans (book_id, member_id, borrowed_at, due_at, returned_at, overdue, overdue_count, version, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		loan.BookID, loan.MemberID, loan.BorrowedAt, loan.DueAt, nullTime(loan.ReturnedAt),
		loan.Overdue, loan.OverdueCount, loan.Version, loan.UpdatedAt,
	).Scan(&loan.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrUniqueViolation, err)
		}
		return fmt.Errorf("貸出の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は貸出の可変フィールドを楽観ロック付きで更新する。成功するとloan.Versionを進める。
func (r *PostgresLoanRepo) Update(ctx context.Context, loan *model.Loan) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE loans
		 SET due_at = $3, returned_at = $4, overdue = $5, overdue_count = $6,
		     updated_at = $7, version = version + 1
		 WHERE id = $1 AND version = $2`,
		loan.ID, loan.Version, loan.DueAt, nullTime(loan.ReturnedAt), loan.Overdue, loan.OverdueCount, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("貸出の更新に失敗しました: %w", err)
	}
	if err := checkAffected(res); err != nil {
		return fmt.Errorf("loan %d: %w", loan.ID, err)
	}
	loan.Version++
	return nil
}

func loanFilterDataset(filter model.LoanFilter) *goqu.SelectDataset {
	ds := dialect.From("loans").Prepared(true)
	if filter.MemberID != nil {
		ds = ds.Where(goqu.C("member_id").Eq(*filter.MemberID))
	}
	if filter.OpenOnly {
		ds = ds.Where(goqu.C("returned_at").IsNull())
	}
	return ds
}

// Count はフィルタに一致する貸出の件数を返す。
func (r *PostgresLoanRepo) Count(ctx context.Context, filter model.LoanFilter) (int, error) {
	query, args, err := loanFilterDataset(filter).Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build loan count query: %w", err)
	}

	var count int
	if err := sqlx.GetContext(ctx, r.db, &count, query, args...); err != nil {
		return 0, fmt.Errorf("貸出件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// List はフィルタに一致する貸出をID降順（新しい順）で返す。
func (r *PostgresLoanRepo) List(ctx context.Context, filter model.LoanFilter, page model.Page) ([]*model.Loan, error) {
	query, args, err := loanFilterDataset(filter).
		Select(loanColumns...).
		Order(goqu.C("id").Desc()).
		Limit(uint(page.Size)).
		Offset(uint(page.Offset())).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build loan list query: %w", err)
	}

	var rows []loanRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("貸出一覧の取得に失敗しました: %w", err)
	}

	loans := make([]*model.Loan, 0, len(rows))
	for _, row := range rows {
		loans = append(loans, row.toModel())
	}
	return loans, nil
}

type overdueCandidateRow struct {
	ID    int64     `db:"id"`
	DueAt time.Time `db:"due_at"`
}

// ListOverdueCandidates は延滞判定の対象となる貸出を (due_at, id) の昇順で返す。
func (r *PostgresLoanRepo) ListOverdueCandidates(ctx context.Context, now time.Time, after *model.OverdueCandidate, limit int) ([]model.OverdueCandidate, error) {
	query := `SELECT id, due_at FROM loans
		 WHERE returned_at IS NULL AND overdue = false AND due_at <= $1
		 ORDER BY due_at, id
		 LIMIT $2`
	args := []interface{}{now, limit}
	if after != nil {
		query = `SELECT id, due_at FROM loans
		 WHERE returned_at IS NULL AND overdue = false AND due_at <= $1
		   AND (due_at, id) > ($3, $4)
		 ORDER BY due_at, id
		 LIMIT $2`
		args = append(args, after.DueAt, after.LoanID)
	}

	var rows []overdueCandidateRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("延滞候補の取得に失敗しました: %w", err)
	}

	candidates := make([]model.OverdueCandidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, model.OverdueCandidate{LoanID: row.ID, DueAt: row.DueAt})
	}
	return candidates, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ LoanRepository = (*PostgresLoanRepo)(nil)
