package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/libman/internal/model"
)

type fineRow struct {
	ID         int64           `db:"id"`
	LoanID     int64           `db:"loan_id"`
	MemberID   int64           `db:"member_id"`
	Amount     decimal.Decimal `db:"amount"`
	Paid       bool            `db:"paid"`
	PaidAt     sql.NullTime    `db:"paid_at"`
	OverdueSeq int             `db:"overdue_seq"`
	SweepRunID string          `db:"sweep_run_id"`
	Version    int64           `db:"version"`
	CreatedAt  time.Time       `db:"created_at"`
}

func (r fineRow) toModel() *model.Fine {
	fine := &model.Fine{
		ID:         r.ID,
		LoanID:     r.LoanID,
		MemberID:   r.MemberID,
		Amount:     r.Amount,
		Paid:       r.Paid,
		OverdueSeq: r.OverdueSeq,
		SweepRunID: r.SweepRunID,
		Version:    r.Version,
		CreatedAt:  r.CreatedAt,
	}
	if r.PaidAt.Valid {
		t := r.PaidAt.Time
		fine.PaidAt = &t
	}
	return fine
}

var fineColumns = []interface{}{
	"id", "loan_id", "member_id", "amount", "paid", "paid_at",
	"overdue_seq", "sweep_run_id", "version", "created_at",
}

const selectFineSQL = `SELECT id, loan_id, member_id, amount, paid, paid_at,
	        overdue_seq, sweep_run_id, version, created_at
	 FROM fines WHERE id = $1`

// PostgresFineRepo はPostgreSQLを使用した罰金リポジトリ。
type PostgresFineRepo struct {
	db sqlx.ExtContext
}

// NewPostgresFineRepo はPostgresFineRepoを生成する。
func NewPostgresFineRepo(db sqlx.ExtContext) *PostgresFineRepo {
	return &PostgresFineRepo{db: db}
}

// FindByID は指定IDの罰金を取得する。見つからない場合はnilを返す。
func (r *PostgresFineRepo) FindByID(ctx context.Context, id int64) (*model.Fine, error) {
	return r.find(ctx, selectFineSQL, id)
}

// FindByIDForUpdate は指定IDの罰金を行ロック付きで取得する。
func (r *PostgresFineRepo) FindByIDForUpdate(ctx context.Context, id int64) (*model.Fine, error) {
	return r.find(ctx, selectFineSQL+" FOR UPDATE", id)
}

func (r *PostgresFineRepo) find(ctx context.Context, query string, id int64) (*model.Fine, error) {
	var row fineRow
	err := sqlx.GetContext(ctx, r.db, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("罰金の取得に失敗しました: %w", err)
	}
	return row.toModel(), nil
}

// Create は罰金を作成し、採番されたIDをfine.IDに設定する。
func (r *PostgresFineRepo) Create(ctx context.Context, fine *model.Fine) error {
	if fine.Version == 0 {
		fine.Version = 1
	}
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO fines (loan_id, member_id, amount, paid, paid_at, overdue_seq, sweep_run_id, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		fine.LoanID, fine.MemberID, fine.Amount, fine.Paid, nullTime(fine.PaidAt),
		fine.OverdueSeq, fine.SweepRunID, fine.Version, fine.CreatedAt,
	).Scan(&fine.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrUniqueViolation, err)
		}
		return fmt.Errorf("罰金の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は支払い状態を楽観ロック付きで更新する。成功するとfine.Versionを進める。
func (r *PostgresFineRepo) Update(ctx context.Context, fine *model.Fine) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE fines SET paid = $3, paid_at = $4, version = version + 1
		 WHERE id = $1 AND version = $2`,
		fine.ID, fine.Version, fine.Paid, nullTime(fine.PaidAt),
	)
	if err != nil {
		return fmt.Errorf("罰金の更新に失敗しました: %w", err)
	}
	if err := checkAffected(res); err != nil {
		return fmt.Errorf("fine %d: %w", fine.ID, err)
	}
	fine.Version++
	return nil
}

func fineFilterDataset(filter model.FineFilter) *goqu.SelectDataset {
	ds := dialect.From("fines").Prepared(true)
	if filter.LoanID != nil {
		ds = ds.Where(goqu.C("loan_id").Eq(*filter.LoanID))
	}
	if filter.MemberID != nil {
		ds = ds.Where(goqu.C("member_id").Eq(*filter.MemberID))
	}
	return ds
}

// Count はフィルタに一致する罰金の件数を返す。
func (r *PostgresFineRepo) Count(ctx context.Context, filter model.FineFilter) (int, error) {
	query, args, err := fineFilterDataset(filter).Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build fine count query: %w", err)
	}

	var count int
	if err := sqlx.GetContext(ctx, r.db, &count, query, args...); err != nil {
		return 0, fmt.Errorf("罰金件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// List はフィルタに一致する罰金をID降順（新しい順）で返す。
func (r *PostgresFineRepo) List(ctx context.Context, filter model.FineFilter, page model.Page) ([]*model.Fine, error) {
	query, args, err := fineFilterDataset(filter).
		Select(fineColumns...).
		Order(goqu.C("id").Desc()).
		Limit(uint(page.Size)).
		Offset(uint(page.Offset())).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build fine list query: %w", err)
	}

	var rows []fineRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("罰金一覧の取得に失敗しました: %w", err)
	}

	fines := make([]*model.Fine, 0, len(rows))
	for _, row := range rows {
		fines = append(fines, row.toModel())
	}
	return fines, nil
}

// CountUnpaidOverdueByMember は会員の未払い罰金のうち、延滞中の貸出に紐づく件数を返す。
func (r *PostgresFineRepo) CountUnpaidOverdueByMember(ctx context.Context, memberID int64) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, r.db, &count,
		`SELECT COUNT(*) FROM fines f
		 JOIN loans l ON l.id = f.loan_id
		 WHERE f.member_id = $1 AND f.paid = false AND l.overdue = true`,
		memberID,
	)
	if err != nil {
		return 0, fmt.Errorf("未払い罰金件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

var _ FineRepository = (*PostgresFineRepo)(nil)
