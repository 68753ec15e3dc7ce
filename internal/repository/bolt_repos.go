package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/boltdb/bolt"

	"github.com/hitoshi/libman/internal/model"
)

type boltBookRepo struct {
	r runner
}

func (r *boltBookRepo) FindByID(ctx context.Context, id int64) (*model.Book, error) {
	var book *model.Book
	err := r.r.view(func(tx *bolt.Tx) error {
		var b model.Book
		found, err := getJSON(tx.Bucket(bucketBooks), itob(id), &b)
		if found {
			book = &b
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("蔵書の取得に失敗しました: %w", err)
	}
	return book, nil
}

// FindByIDForUpdate はFindByIDと同じ。書き込みトランザクションは直列化されている。
func (r *boltBookRepo) FindByIDForUpdate(ctx context.Context, id int64) (*model.Book, error) {
	return r.FindByID(ctx, id)
}

func (r *boltBookRepo) Create(ctx context.Context, book *model.Book) error {
	err := r.r.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBooks)
		id, err := nextID(b)
		if err != nil {
			return err
		}
		book.ID = id
		if book.Version == 0 {
			book.Version = 1
		}
		return putJSON(b, itob(id), book)
	})
	if err != nil {
		return fmt.Errorf("蔵書の作成に失敗しました: %w", err)
	}
	return nil
}

func (r *boltBookRepo) UpdateAvailability(ctx context.Context, book *model.Book) error {
	return r.r.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBooks)
		var stored model.Book
		found, err := getJSON(b, itob(book.ID), &stored)
		if err != nil {
			return fmt.Errorf("蔵書の貸出状態の更新に失敗しました: %w", err)
		}
		if !found || stored.Version != book.Version {
			return fmt.Errorf("book %d: %w", book.ID, ErrVersionConflict)
		}
		stored.AvailabilityStatus = book.AvailabilityStatus
		stored.UpdatedAt = book.UpdatedAt
		stored.Version++
		if err := putJSON(b, itob(book.ID), &stored); err != nil {
			return fmt.Errorf("蔵書の貸出状態の更新に失敗しました: %w", err)
		}
		book.Version = stored.Version
		return nil
	})
}

type boltMemberRepo struct {
	r runner
}

func (r *boltMemberRepo) FindByID(ctx context.Context, id int64) (*model.Member, error) {
	var member *model.Member
	err := r.r.view(func(tx *bolt.Tx) error {
		var m model.Member
		found, err := getJSON(tx.Bucket(bucketMembers), itob(id), &m)
		if found {
			member = &m
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("会員の取得に失敗しました: %w", err)
	}
	return member, nil
}

func (r *boltMemberRepo) Create(ctx context.Context, member *model.Member) error {
	return r.r.update(func(tx *bolt.Tx) error {
		byEmail := tx.Bucket(bucketMembersByEmail)
		emailKey := []byte(strings.ToLower(member.Email))
		if byEmail.Get(emailKey) != nil {
			return fmt.Errorf("member email %s: %w", member.Email, ErrUniqueViolation)
		}

		b := tx.Bucket(bucketMembers)
		id, err := nextID(b)
		if err != nil {
			return fmt.Errorf("会員の作成に失敗しました: %w", err)
		}
		member.ID = id
		if err := putJSON(b, itob(id), member); err != nil {
			return fmt.Errorf("会員の作成に失敗しました: %w", err)
		}
		return byEmail.Put(emailKey, itob(id))
	})
}

type boltLoanRepo struct {
	r runner
}

func (r *boltLoanRepo) FindByID(ctx context.Context, id int64) (*model.Loan, error) {
	var loan *model.Loan
	err := r.r.view(func(tx *bolt.Tx) error {
		var l model.Loan
		found, err := getJSON(tx.Bucket(bucketLoans), itob(id), &l)
		if found {
			loan = &l
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("貸出の取得に失敗しました: %w", err)
	}
	return loan, nil
}

// FindByIDForUpdate はFindByIDと同じ。書き込みトランザクションは直列化されている。
func (r *boltLoanRepo) FindByIDForUpdate(ctx context.Context, id int64) (*model.Loan, error) {
	return r.FindByID(ctx, id)
}

func (r *boltLoanRepo) Create(ctx context.Context, loan *model.Loan) error {
	return r.r.update(func(tx *bolt.Tx) error {
		open := tx.Bucket(bucketOpenLoanByBook)
		if loan.IsOpen() && open.Get(itob(loan.BookID)) != nil {
			return fmt.Errorf("open loan for book %d: %w", loan.BookID, ErrUniqueViolation)
		}

		b := tx.Bucket(bucketLoans)
		id, err := nextID(b)
		if err != nil {
			return fmt.Errorf("貸出の作成に失敗しました: %w", err)
		}
		loan.ID = id
		if loan.Version == 0 {
			loan.Version = 1
		}
		if err := putJSON(b, itob(id), loan); err != nil {
			return fmt.Errorf("貸出の作成に失敗しました: %w", err)
		}
		if loan.IsOpen() {
			return open.Put(itob(loan.BookID), itob(id))
		}
		return nil
	})
}

func (r *boltLoanRepo) Update(ctx context.Context, loan *model.Loan) error {
	return r.r.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLoans)
		var stored model.Loan
		found, err := getJSON(b, itob(loan.ID), &stored)
		if err != nil {
			return fmt.Errorf("貸出の更新に失敗しました: %w", err)
		}
		if !found || stored.Version != loan.Version {
			return fmt.Errorf("loan %d: %w", loan.ID, ErrVersionConflict)
		}

		updated := *loan
		updated.Version = stored.Version + 1
		if err := putJSON(b, itob(loan.ID), &updated); err != nil {
			return fmt.Errorf("貸出の更新に失敗しました: %w", err)
		}
		if stored.IsOpen() && !updated.IsOpen() {
			if err := tx.Bucket(bucketOpenLoanByBook).Delete(itob(loan.BookID)); err != nil {
				return fmt.Errorf("貸出の更新に失敗しました: %w", err)
			}
		}
		loan.Version = updated.Version
		return nil
	})
}

func matchLoan(l *model.Loan, filter model.LoanFilter) bool {
	if filter.MemberID != nil && l.MemberID != *filter.MemberID {
		return false
	}
	if filter.OpenOnly && !l.IsOpen() {
		return false
	}
	return true
}

func (r *boltLoanRepo) Count(ctx context.Context, filter model.LoanFilter) (int, error) {
	count := 0
	err := r.r.view(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLoans).ForEach(func(k, v []byte) error {
			var l model.Loan
			if err := json.Unmarshal(v, &l); err != nil {
				return fmt.Errorf("failed to decode loan %d: %w", btoi(k), err)
			}
			if matchLoan(&l, filter) {
				count++
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("貸出件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

func (r *boltLoanRepo) List(ctx context.Context, filter model.LoanFilter, page model.Page) ([]*model.Loan, error) {
	loans := make([]*model.Loan, 0, page.Size)
	skip := page.Offset()
	err := r.r.view(func(tx *bolt.Tx) error {
		return scanDesc(tx.Bucket(bucketLoans), func(k, v []byte) (bool, error) {
			var l model.Loan
			if err := json.Unmarshal(v, &l); err != nil {
				return false, fmt.Errorf("failed to decode loan %d: %w", btoi(k), err)
			}
			if !matchLoan(&l, filter) {
				return true, nil
			}
			if skip > 0 {
				skip--
				return true, nil
			}
			loans = append(loans, &l)
			return len(loans) < page.Size, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("貸出一覧の取得に失敗しました: %w", err)
	}
	return loans, nil
}

func (r *boltLoanRepo) ListOverdueCandidates(ctx context.Context, now time.Time, after *model.OverdueCandidate, limit int) ([]model.OverdueCandidate, error) {
	var candidates []*model.Loan
	err := r.r.view(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLoans).ForEach(func(k, v []byte) error {
			var l model.Loan
			if err := json.Unmarshal(v, &l); err != nil {
				return fmt.Errorf("failed to decode loan %d: %w", btoi(k), err)
			}
			if l.IsOpen() && !l.Overdue && !l.DueAt.After(now) && afterCursor(&l, after) {
				candidates = append(candidates, &l)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("延滞候補の取得に失敗しました: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DueAt.Equal(candidates[j].DueAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].DueAt.Before(candidates[j].DueAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	keys := make([]model.OverdueCandidate, 0, len(candidates))
	for _, l := range candidates {
		keys = append(keys, model.OverdueCandidate{LoanID: l.ID, DueAt: l.DueAt})
	}
	return keys, nil
}

// afterCursor は貸出が (DueAt, ID) の順でカーソルより後ろにあるかを判定する。
func afterCursor(l *model.Loan, after *model.OverdueCandidate) bool {
	if after == nil {
		return true
	}
	if l.DueAt.Equal(after.DueAt) {
		return l.ID > after.LoanID
	}
	return l.DueAt.After(after.DueAt)
}

type boltFineRepo struct {
	r runner
}

func transitionKey(loanID int64, seq int) []byte {
	return append(itob(loanID), itob(int64(seq))...)
}

func (r *boltFineRepo) FindByID(ctx context.Context, id int64) (*model.Fine, error) {
	var fine *model.Fine
	err := r.r.view(func(tx *bolt.Tx) error {
		var f model.Fine
		found, err := getJSON(tx.Bucket(bucketFines), itob(id), &f)
		if found {
			fine = &f
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("罰金の取得に失敗しました: %w", err)
	}
	return fine, nil
}

// FindByIDForUpdate はFindByIDと同じ。書き込みトランザクションは直列化されている。
func (r *boltFineRepo) FindByIDForUpdate(ctx context.Context, id int64) (*model.Fine, error) {
	return r.FindByID(ctx, id)
}

func (r *boltFineRepo) Create(ctx context.Context, fine *model.Fine) error {
	return r.r.update(func(tx *bolt.Tx) error {
		byTransition := tx.Bucket(bucketFineByTransition)
		key := transitionKey(fine.LoanID, fine.OverdueSeq)
		if byTransition.Get(key) != nil {
			return fmt.Errorf("fine for loan %d seq %d: %w", fine.LoanID, fine.OverdueSeq, ErrUniqueViolation)
		}

		b := tx.Bucket(bucketFines)
		id, err := nextID(b)
		if err != nil {
			return fmt.Errorf("罰金の作成に失敗しました: %w", err)
		}
		fine.ID = id
		if fine.Version == 0 {
			fine.Version = 1
		}
		if err := putJSON(b, itob(id), fine); err != nil {
			return fmt.Errorf("罰金の作成に失敗しました: %w", err)
		}
		return byTransition.Put(key, itob(id))
	})
}

func (r *boltFineRepo) Update(ctx context.Context, fine *model.Fine) error {
	return r.r.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFines)
		var stored model.Fine
		found, err := getJSON(b, itob(fine.ID), &stored)
		if err != nil {
			return fmt.Errorf("罰金の更新に失敗しました: %w", err)
		}
		if !found || stored.Version != fine.Version {
			return fmt.Errorf("fine %d: %w", fine.ID, ErrVersionConflict)
		}
		stored.Paid = fine.Paid
		stored.PaidAt = fine.PaidAt
		stored.Version++
		if err := putJSON(b, itob(fine.ID), &stored); err != nil {
			return fmt.Errorf("罰金の更新に失敗しました: %w", err)
		}
		fine.Version = stored.Version
		return nil
	})
}

func matchFine(f *model.Fine, filter model.FineFilter) bool {
	if filter.LoanID != nil && f.LoanID != *filter.LoanID {
		return false
	}
	if filter.MemberID != nil && f.MemberID != *filter.MemberID {
		return false
	}
	return true
}

func (r *boltFineRepo) Count(ctx context.Context, filter model.FineFilter) (int, error) {
	count := 0
	err := r.r.view(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFines).ForEach(func(k, v []byte) error {
			var f model.Fine
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("failed to decode fine %d: %w", btoi(k), err)
			}
			if matchFine(&f, filter) {
				count++
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("罰金件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

func (r *boltFineRepo) List(ctx context.Context, filter model.FineFilter, page model.Page) ([]*model.Fine, error) {
	fines := make([]*model.Fine, 0, page.Size)
	skip := page.Offset()
	err := r.r.view(func(tx *bolt.Tx) error {
		return scanDesc(tx.Bucket(bucketFines), func(k, v []byte) (bool, error) {
			var f model.Fine
			if err := json.Unmarshal(v, &f); err != nil {
				return false, fmt.Errorf("failed to decode fine %d: %w", btoi(k), err)
			}
			if !matchFine(&f, filter) {
				return true, nil
			}
			if skip > 0 {
				skip--
				return true, nil
			}
			fines = append(fines, &f)
			return len(fines) < page.Size, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("罰金一覧の取得に失敗しました: %w", err)
	}
	return fines, nil
}

func (r *boltFineRepo) CountUnpaidOverdueByMember(ctx context.Context, memberID int64) (int, error) {
	count := 0
	err := r.r.view(func(tx *bolt.Tx) error {
		loans := tx.Bucket(bucketLoans)
		return tx.Bucket(bucketFines).ForEach(func(k, v []byte) error {
			var f model.Fine
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("failed to decode fine %d: %w", btoi(k), err)
			}
			if f.MemberID != memberID || f.Paid {
				return nil
			}
			var l model.Loan
			found, err := getJSON(loans, itob(f.LoanID), &l)
			if err != nil {
				return err
			}
			if found && l.Overdue {
				count++
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("未払い罰金件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

var (
	_ BookRepository   = (*boltBookRepo)(nil)
	_ MemberRepository = (*boltMemberRepo)(nil)
	_ LoanRepository   = (*boltLoanRepo)(nil)
	_ FineRepository   = (*boltFineRepo)(nil)
)
