package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/libman/internal/clock"
	"github.com/hitoshi/libman/internal/model"
	"github.com/hitoshi/libman/internal/repository"
)

// 操作名（メトリクスのラベル）
const (
	OpBorrow      = "borrow"
	OpReturn      = "return"
	OpRenew       = "renew"
	OpPayFine     = "pay_fine"
	OpMarkOverdue = "mark_overdue"
)

// MetricsRecorder は貸出操作のメトリクスを記録するインターフェース。
type MetricsRecorder interface {
	RecordOperation(op, outcome string)
	RecordOverdueMarked()
	RecordFinePaid()
}

// ServiceConfig はServiceの設定。
type ServiceConfig struct {
	Policy       Policy
	LoanPageSize int
	FinePageSize int
}

// Service は貸出台帳と罰金台帳のサービス層。
// 状態を変更する操作はすべてUnitOfWork.Doの中で、
// 行ロックで読み直した値に対して事前条件を検証してから書き込む。
type Service struct {
	uow          repository.UnitOfWork
	clock        clock.Clock
	policy       Policy
	guard        EligibilityGuard
	metrics      MetricsRecorder
	logger       *slog.Logger
	loanPageSize int
	finePageSize int
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(uow repository.UnitOfWork, clk clock.Clock, logger *slog.Logger, metrics MetricsRecorder, cfg ServiceConfig) (*Service, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.LoanPageSize <= 0 {
		cfg.LoanPageSize = 13
	}
	if cfg.FinePageSize <= 0 {
		cfg.FinePageSize = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		uow:          uow,
		clock:        clk,
		policy:       cfg.Policy,
		metrics:      metrics,
		logger:       logger,
		loanPageSize: cfg.LoanPageSize,
		finePageSize: cfg.FinePageSize,
	}, nil
}

// Policy は適用中のポリシーを返す。
func (s *Service) Policy() Policy {
	return s.policy
}

// Borrow は蔵書を会員に貸し出す。
// 会員の存在、貸出資格、蔵書の存在と貸出可否の順に検証し、
// 貸出の作成と蔵書の貸出中への更新を同一トランザクションで行う。
func (s *Service) Borrow(ctx context.Context, cmd BorrowCommand) (*model.Loan, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var loan *model.Loan
	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos) error {
		member, err := r.Members.FindByID(ctx, cmd.MemberID)
		if err != nil {
			return err
		}
		if member == nil {
			return model.NewMemberNotFoundError(cmd.MemberID)
		}

		if err := s.guard.Require(ctx, r.Fines, cmd.MemberID); err != nil {
			return err
		}

		book, err := r.Books.FindByIDForUpdate(ctx, cmd.BookID)
		if err != nil {
			return err
		}
		if book == nil {
			return model.NewBookNotFoundError(cmd.BookID)
		}

		now := s.clock.Now()
		if err := CheckOut(book, now); err != nil {
			return err
		}

		loan = NewLoan(book.ID, cmd.MemberID, now, s.policy)
		if err := r.Loans.Create(ctx, loan); err != nil {
			if errors.Is(err, repository.ErrUniqueViolation) {
				return model.NewBookUnavailableError(book.ID)
			}
			return err
		}
		return r.Books.UpdateAvailability(ctx, book)
	})
	if err != nil {
		return nil, s.fail(OpBorrow, err)
	}

	s.succeed(OpBorrow)
	s.logger.Info("蔵書を貸し出しました",
		slog.Int64("loan_id", loan.ID),
		slog.Int64("book_id", loan.BookID),
		slog.Int64("member_id", loan.MemberID),
		slog.Time("due_at", loan.DueAt),
	)
	return loan, nil
}

// Return は貸出を返却済みにし、蔵書を貸出可能に戻す。
// 延滞フラグと罰金は変更しない。
func (s *Service) Return(ctx context.Context, cmd ReturnCommand) (*model.Loan, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var loan *model.Loan
	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		loan, err = r.Loans.FindByIDForUpdate(ctx, cmd.LoanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return model.NewLoanNotFoundError(cmd.LoanID)
		}

		if err := s.guard.Require(ctx, r.Fines, loan.MemberID); err != nil {
			return err
		}

		now := s.clock.Now()
		if err := ApplyReturn(loan, now); err != nil {
			return err
		}

		book, err := r.Books.FindByIDForUpdate(ctx, loan.BookID)
		if err != nil {
			return err
		}
		if book == nil {
			return model.NewBookNotFoundError(loan.BookID)
		}

		if err := r.Loans.Update(ctx, loan); err != nil {
			return err
		}
		CheckIn(book, now)
		return r.Books.UpdateAvailability(ctx, book)
	})
	if err != nil {
		return nil, s.fail(OpReturn, err)
	}

	s.succeed(OpReturn)
	s.logger.Info("蔵書が返却されました",
		slog.Int64("loan_id", loan.ID),
		slog.Int64("book_id", loan.BookID),
		slog.Bool("overdue", loan.Overdue),
	)
	return loan, nil
}

// Renew は返却期限を現在の期限から貸出期間だけ延ばす。
func (s *Service) Renew(ctx context.Context, cmd RenewCommand) (*model.Loan, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var loan *model.Loan
	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		loan, err = r.Loans.FindByIDForUpdate(ctx, cmd.LoanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return model.NewLoanNotFoundError(cmd.LoanID)
		}

		if err := s.guard.Require(ctx, r.Fines, loan.MemberID); err != nil {
			return err
		}

		if err := ApplyRenew(loan, s.clock.Now(), s.policy); err != nil {
			return err
		}
		return r.Loans.Update(ctx, loan)
	})
	if err != nil {
		return nil, s.fail(OpRenew, err)
	}

	s.succeed(OpRenew)
	s.logger.Info("貸出を延長しました",
		slog.Int64("loan_id", loan.ID),
		slog.Time("due_at", loan.DueAt),
	)
	return loan, nil
}

// PayFine は罰金を支払い済みにし、貸出が未返却であれば返却期限を再設定して延滞を解除する。
func (s *Service) PayFine(ctx context.Context, cmd PayFineCommand) (*model.Fine, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var fine *model.Fine
	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		fine, err = r.Fines.FindByIDForUpdate(ctx, cmd.FineID)
		if err != nil {
			return err
		}
		if fine == nil {
			return model.NewFineNotFoundError(cmd.FineID)
		}
		if fine.Paid {
			return model.NewFineAlreadyPaidError(fine.ID)
		}

		loan, err := r.Loans.FindByIDForUpdate(ctx, fine.LoanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return model.NewLoanNotFoundError(fine.LoanID)
		}

		loanChanged, err := ApplyPayment(fine, loan, s.clock.Now(), s.policy)
		if err != nil {
			return err
		}
		if err := r.Fines.Update(ctx, fine); err != nil {
			return err
		}
		if loanChanged {
			return r.Loans.Update(ctx, loan)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(OpPayFine, err)
	}

	s.succeed(OpPayFine)
	if s.metrics != nil {
		s.metrics.RecordFinePaid()
	}
	s.logger.Info("罰金が支払われました",
		slog.Int64("fine_id", fine.ID),
		slog.Int64("loan_id", fine.LoanID),
		slog.String("amount", fine.Amount.String()),
	)
	return fine, nil
}

// MarkOverdue は1件の貸出に延滞判定を適用する。
// 行ロックで読み直した貸出が延滞に遷移した場合のみ、貸出の更新と罰金1件の作成を
// 同一トランザクションで行い、trueを返す。
// 既に延滞・返却済み・期限前の貸出には何もしない。
// 同じ延滞遷移の罰金が既に存在する場合は一意制約により競合エラーとなる。
func (s *Service) MarkOverdue(ctx context.Context, loanID int64, runID string) (bool, error) {
	marked := false
	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos) error {
		loan, err := r.Loans.FindByIDForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return model.NewLoanNotFoundError(loanID)
		}

		now := s.clock.Now()
		if !ApplyOverdue(loan, now) {
			return nil
		}
		if err := r.Loans.Update(ctx, loan); err != nil {
			return err
		}
		fine := NewFine(loan, s.policy.FineAmount, runID, now)
		if err := r.Fines.Create(ctx, fine); err != nil {
			return err
		}
		marked = true
		return nil
	})
	if err != nil {
		return false, s.fail(OpMarkOverdue, err)
	}

	if marked {
		s.succeed(OpMarkOverdue)
		if s.metrics != nil {
			s.metrics.RecordOverdueMarked()
		}
	}
	return marked, nil
}

// OverdueCandidates は延滞判定の対象となる貸出をafterより後ろから最大limit件返す。
// afterがnilの場合は先頭から返す。
func (s *Service) OverdueCandidates(ctx context.Context, after *model.OverdueCandidate, limit int) ([]model.OverdueCandidate, error) {
	candidates, err := s.uow.Repos().Loans.ListOverdueCandidates(ctx, s.clock.Now(), after, limit)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return candidates, nil
}

// GetLoan は指定IDの貸出を返す。
func (s *Service) GetLoan(ctx context.Context, loanID int64) (*model.Loan, error) {
	if err := validateID("loan_id", loanID); err != nil {
		return nil, err
	}
	loan, err := s.uow.Repos().Loans.FindByID(ctx, loanID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if loan == nil {
		return nil, model.NewLoanNotFoundError(loanID)
	}
	return loan, nil
}

// GetFine は指定IDの罰金を返す。
func (s *Service) GetFine(ctx context.Context, fineID int64) (*model.Fine, error) {
	if err := validateID("fine_id", fineID); err != nil {
		return nil, err
	}
	fine, err := s.uow.Repos().Fines.FindByID(ctx, fineID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if fine == nil {
		return nil, model.NewFineNotFoundError(fineID)
	}
	return fine, nil
}

// ListOpenLoans は未返却の貸出を新しい順にページングして返す。
func (s *Service) ListOpenLoans(ctx context.Context, q LoanQuery) (*model.PageResult[*model.Loan], error) {
	return s.listLoans(ctx, q, true)
}

// ListLoanHistory は返却済みを含むすべての貸出を新しい順にページングして返す。
func (s *Service) ListLoanHistory(ctx context.Context, q LoanQuery) (*model.PageResult[*model.Loan], error) {
	return s.listLoans(ctx, q, false)
}

func (s *Service) listLoans(ctx context.Context, q LoanQuery, openOnly bool) (*model.PageResult[*model.Loan], error) {
	if err := validateOptionalID("member_id", q.MemberID); err != nil {
		return nil, err
	}
	if err := validatePage(q.Page, s.loanPageSize); err != nil {
		return nil, err
	}

	filter := model.LoanFilter{MemberID: q.MemberID, OpenOnly: openOnly}
	page := model.NewPage(q.Page, s.loanPageSize)
	repo := s.uow.Repos().Loans

	total, err := repo.Count(ctx, filter)
	if err != nil {
		return nil, translateStoreError(err)
	}
	loans, err := repo.List(ctx, filter, page)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return &model.PageResult[*model.Loan]{Total: total, Page: page.Number, Size: page.Size, Data: loans}, nil
}

// ListFines は罰金を新しい順にページングして返す。
func (s *Service) ListFines(ctx context.Context, q FineQuery) (*model.PageResult[*model.Fine], error) {
	if err := validateOptionalID("loan_id", q.LoanID); err != nil {
		return nil, err
	}
	if err := validateOptionalID("member_id", q.MemberID); err != nil {
		return nil, err
	}
	if err := validatePage(q.Page, s.finePageSize); err != nil {
		return nil, err
	}

	filter := model.FineFilter{LoanID: q.LoanID, MemberID: q.MemberID}
	page := model.NewPage(q.Page, s.finePageSize)
	repo := s.uow.Repos().Fines

	total, err := repo.Count(ctx, filter)
	if err != nil {
		return nil, translateStoreError(err)
	}
	fines, err := repo.List(ctx, filter, page)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return &model.PageResult[*model.Fine]{Total: total, Page: page.Number, Size: page.Size, Data: fines}, nil
}

// ListFinesByLoan は貸出に紐づく罰金をページングして返す。貸出が存在しない場合はNotFound。
func (s *Service) ListFinesByLoan(ctx context.Context, loanID int64, page int) (*model.PageResult[*model.Fine], error) {
	if _, err := s.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return s.ListFines(ctx, FineQuery{LoanID: &loanID, Page: page})
}

// CheckEligible は会員の貸出資格を返す。会員が存在しない場合はNotFound。
func (s *Service) CheckEligible(ctx context.Context, memberID int64) (*model.Eligibility, error) {
	if err := validateID("member_id", memberID); err != nil {
		return nil, err
	}
	repos := s.uow.Repos()
	member, err := repos.Members.FindByID(ctx, memberID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if member == nil {
		return nil, model.NewMemberNotFoundError(memberID)
	}
	e, err := s.guard.Check(ctx, repos.Fines, memberID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return &e, nil
}

func (s *Service) succeed(op string) {
	if s.metrics != nil {
		s.metrics.RecordOperation(op, "success")
	}
}

// fail はエラーを種別付きのAPIErrorに変換し、メトリクスとログに記録する。
func (s *Service) fail(op string, err error) error {
	err = translateStoreError(err)
	kind := model.KindOf(err)
	if s.metrics != nil {
		s.metrics.RecordOperation(op, string(kind))
	}
	if kind == model.KindStore {
		s.logger.Error("貸出操作に失敗しました",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// translateStoreError はリポジトリのエラーをAPIErrorに変換する。
// バージョン不一致と一意制約違反は競合、それ以外はストア障害として扱う。
func translateStoreError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	if errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, repository.ErrUniqueViolation) {
		return model.NewConcurrentUpdateError(err)
	}
	return model.NewStoreError(fmt.Errorf("store operation failed: %w", err))
}
