package repository

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// バケット名
var (
	bucketMembers          = []byte("members")
	bucketMembersByEmail   = []byte("members_by_email")
	bucketBooks            = []byte("books")
	bucketLoans            = []byte("loans")
	bucketOpenLoanByBook   = []byte("open_loan_by_book")
	bucketFines            = []byte("fines")
	bucketFineByTransition = []byte("fine_by_transition")
)

var allBuckets = [][]byte{
	bucketMembers, bucketMembersByEmail, bucketBooks, bucketLoans,
	bucketOpenLoanByBook, bucketFines, bucketFineByTransition,
}

// BoltStore はBoltDBを使用した組み込みデータストア。
// 書き込みトランザクションは同時に1つしか実行されないため、
// Do内の読み取りと更新は他の書き込みと直列化される。
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore はpathのBoltDBファイルを開き（存在しなければ作成し）、バケットを準備する。
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare bolt buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Repos はトランザクション外で使うリポジトリを返す。
// 各呼び出しはそれぞれ独立したトランザクションで実行される。
func (s *BoltStore) Repos() Repos {
	return newBoltRepos(dbRunner{db: s.db})
}

// Do はfnをひとつの書き込みトランザクション内で実行する。
func (s *BoltStore) Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(ctx, newBoltRepos(txRunner{tx: tx}))
	})
}

// PingContext はデータベースファイルが読み取り可能かを確認する。
func (s *BoltStore) PingContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketLoans) == nil {
			return fmt.Errorf("bucket %s is missing", bucketLoans)
		}
		return nil
	})
}

// Close はデータベースファイルのロックを解放する。
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func newBoltRepos(r runner) Repos {
	return Repos{
		Books:   &boltBookRepo{r: r},
		Members: &boltMemberRepo{r: r},
		Loans:   &boltLoanRepo{r: r},
		Fines:   &boltFineRepo{r: r},
	}
}

// runner はリポジトリ操作を読み取り・書き込みトランザクションで実行する。
type runner interface {
	view(fn func(tx *bolt.Tx) error) error
	update(fn func(tx *bolt.Tx) error) error
}

// dbRunner は操作ごとに新しいトランザクションを開始する。
type dbRunner struct {
	db *bolt.DB
}

func (r dbRunner) view(fn func(tx *bolt.Tx) error) error   { return r.db.View(fn) }
func (r dbRunner) update(fn func(tx *bolt.Tx) error) error { return r.db.Update(fn) }

// txRunner は実行中の書き込みトランザクションを共有する。
type txRunner struct {
	tx *bolt.Tx
}

func (r txRunner) view(fn func(tx *bolt.Tx) error) error   { return fn(r.tx) }
func (r txRunner) update(fn func(tx *bolt.Tx) error) error { return fn(r.tx) }

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// getJSON はkeyの値をvにデコードする。キーが存在しない場合はfalseを返す。
func getJSON(b *bolt.Bucket, key []byte, v interface{}) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func putJSON(b *bolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return b.Put(key, data)
}

// nextID はバケットのシーケンスから新しいIDを採番する。
func nextID(b *bolt.Bucket) (int64, error) {
	seq, err := b.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate id: %w", err)
	}
	return int64(seq), nil
}

// scanDesc はバケットをキー降順（新しい順）に走査する。
// fnがfalseを返した時点で走査を終了する。
func scanDesc(b *bolt.Bucket, fn func(k, v []byte) (bool, error)) error {
	c := b.Cursor()
	for k, v := c.Last(); k != nil; k, v = c.Prev() {
		cont, err := fn(k, v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

var _ Store = (*BoltStore)(nil)
