package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
)

// dialect は一覧・件数クエリの組み立てに使うgoquのダイアレクト。
// プレースホルダ（$n）を使うPrepared形式でSQLを生成する。
var dialect = goqu.Dialect("postgres")

// PostgresStore はPostgreSQLを使用したデータストア。
// 書き込みを伴う複合操作はDoでひとつのトランザクションにまとめる。
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore はPostgresStoreを生成する。
// driverNameはsql.Openに渡したドライバ名（"postgres"または"pgx"）。
func NewPostgresStore(db *sql.DB, driverName string) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, driverName)}
}

// Repos はトランザクション外で使うリポジトリを返す。
func (s *PostgresStore) Repos() Repos {
	return newPostgresRepos(s.db)
}

// Do はfnをひとつのトランザクション内で実行する。
func (s *PostgresStore) Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, newPostgresRepos(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// PingContext はデータベースへの疎通を確認する。
func (s *PostgresStore) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close はデータベース接続を閉じる。
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func newPostgresRepos(q sqlx.ExtContext) Repos {
	return Repos{
		Books:   NewPostgresBookRepo(q),
		Members: NewPostgresMemberRepo(q),
		Loans:   NewPostgresLoanRepo(q),
		Fines:   NewPostgresFineRepo(q),
	}
}

// checkAffected は楽観ロック付きUPDATEの更新件数を検証する。
func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
