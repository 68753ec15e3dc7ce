package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/libman/internal/model"
)

type bookRow struct {
	ID                 int64     `db:"id"`
	Title              string    `db:"title"`
	Author             string    `db:"author"`
	ISBN               string    `db:"isbn"`
	AvailabilityStatus string    `db:"availability_status"`
	Version            int64     `db:"version"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (r bookRow) toModel() *model.Book {
	return &model.Book{
		ID:                 r.ID,
		Title:              r.Title,
		Author:             r.Author,
		ISBN:               r.ISBN,
		AvailabilityStatus: model.AvailabilityStatus(r.AvailabilityStatus),
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

const selectBookSQL = `SELECT id, title, author, isbn, availability_status, version, created_at, updated_at
	 FROM books WHERE id = $1`

// PostgresBookRepo はPostgreSQLを使用した蔵書リポジトリ。
type PostgresBookRepo struct {
	db sqlx.ExtContext
}

// NewPostgresBookRepo はPostgresBookRepoを生成する。
func NewPostgresBookRepo(db sqlx.ExtContext) *PostgresBookRepo {
	return &PostgresBookRepo{db: db}
}

// FindByID は指定IDの蔵書を取得する。見つからない場合はnilを返す。
func (r *PostgresBookRepo) FindByID(ctx context.Context, id int64) (*model.Book, error) {
	return r.find(ctx, selectBookSQL, id)
}

// FindByIDForUpdate は指定IDの蔵書を行ロック付きで取得する。
func (r *PostgresBookRepo) FindByIDForUpdate(ctx context.Context, id int64) (*model.Book, error) {
	return r.find(ctx, selectBookSQL+" FOR UPDATE", id)
}

func (r *PostgresBookRepo) find(ctx context.Context, query string, id int64) (*model.Book, error) {
	var row bookRow
	err := sqlx.GetContext(ctx, r.db, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("蔵書の取得に失敗しました: %w", err)
	}
	return row.toModel(), nil
}

// Create は蔵書を作成する。
func (r *PostgresBookRepo) Create(ctx context.Context, book *model.Book) error {
	if book.Version == 0 {
		book.Version = 1
	}
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO books (title, author, isbn, availability_status, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		book.Title, book.Author, book.ISBN, string(book.AvailabilityStatus), book.Version, book.CreatedAt, book.UpdatedAt,
	).Scan(&book.ID)
	if err != nil {
		return fmt.Errorf("蔵書の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateAvailability は貸出可否を更新する。成功するとbook.Versionを進める。
func (r *PostgresBookRepo) UpdateAvailability(ctx context.Context, book *model.Book) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE books SET availability_status = $3, updated_at = $4, version = version + 1
		 WHERE id = $1 AND version = $2`,
		book.ID, book.Version, string(book.AvailabilityStatus), book.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("蔵書の貸出状態の更新に失敗しました: %w", err)
	}
	if err := checkAffected(res); err != nil {
		return fmt.Errorf("book %d: %w", book.ID, err)
	}
	book.Version++
	return nil
}

// PostgresMemberRepo はPostgreSQLを使用した会員リポジトリ。
type PostgresMemberRepo struct {
	db sqlx.ExtContext
}

// NewPostgresMemberRepo はPostgresMemberRepoを生成する。
func NewPostgresMemberRepo(db sqlx.ExtContext) *PostgresMemberRepo {
	return &PostgresMemberRepo{db: db}
}

type memberRow struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at"`
}

// FindByID は指定IDの会員を取得する。見つからない場合はnilを返す。
func (r *PostgresMemberRepo) FindByID(ctx context.Context, id int64) (*model.Member, error) {
	var row memberRow
	err := sqlx.GetContext(ctx, r.db, &row,
		`SELECT id, name, email, created_at FROM members WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("会員の取得に失敗しました: %w", err)
	}
	return &model.Member{ID: row.ID, Name: row.Name, Email: row.Email, CreatedAt: row.CreatedAt}, nil
}

// Create は会員を作成する。メールアドレスが重複する場合はErrUniqueViolationを返す。
func (r *PostgresMemberRepo) Create(ctx context.Context, member *model.Member) error {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO members (name, email, created_at) VALUES ($1, $2, $3) RETURNING id`,
		member.Name, member.Email, member.CreatedAt,
	).Scan(&member.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrUniqueViolation, err)
		}
		return fmt.Errorf("会員の作成に失敗しました: %w", err)
	}
	return nil
}

var (
	_ BookRepository   = (*PostgresBookRepo)(nil)
	_ MemberRepository = (*PostgresMemberRepo)(nil)
)
