// Package catalog は貸出の参照先となる会員と蔵書の登録・取得を提供する。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/libman/internal/clock"
	"github.com/hitoshi/libman/internal/model"
	"github.com/hitoshi/libman/internal/repository"
)

// RegisterMemberCommand は会員登録の入力。
type RegisterMemberCommand struct {
	Name  string
	Email string
}

// Validate は入力値を検証する。
func (c RegisterMemberCommand) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return model.NewValidationError("name is required")
	}
	email := strings.TrimSpace(c.Email)
	if email == "" {
		return model.NewValidationError("email is required")
	}
	if at := strings.Index(email, "@"); at <= 0 || at == len(email)-1 {
		return model.NewValidationError("email is malformed")
	}
	return nil
}

// RegisterBookCommand は蔵書登録の入力。
type RegisterBookCommand struct {
	Title  string
	Author string
	ISBN   string
}

// Validate は入力値を検証する。
func (c RegisterBookCommand) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return model.NewValidationError("title is required")
	}
	return nil
}

// Service は会員・蔵書のサービス層。
type Service struct {
	uow    repository.UnitOfWork
	clock  clock.Clock
	logger *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(uow repository.UnitOfWork, clk clock.Clock, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{uow: uow, clock: clk, logger: logger}
}

// RegisterMember は会員を登録する。メールアドレスが重複する場合は競合エラーを返す。
func (s *Service) RegisterMember(ctx context.Context, cmd RegisterMemberCommand) (*model.Member, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	member := &model.Member{
		Name:      strings.TrimSpace(cmd.Name),
		Email:     strings.ToLower(strings.TrimSpace(cmd.Email)),
		CreatedAt: s.clock.Now(),
	}
	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos) error {
		return r.Members.Create(ctx, member)
	})
	if err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, model.NewDuplicateResourceError("member email")
		}
		return nil, model.NewStoreError(fmt.Errorf("会員の登録に失敗しました: %w", err))
	}

	s.logger.Info("会員を登録しました", slog.Int64("member_id", member.ID))
	return member, nil
}

// GetMember は指定IDの会員を返す。
func (s *Service) GetMember(ctx context.Context, memberID int64) (*model.Member, error) {
	if memberID <= 0 {
		return nil, model.NewValidationError("member_id must be positive")
	}
	member, err := s.uow.Repos().Members.FindByID(ctx, memberID)
	if err != nil {
		return nil, model.NewStoreError(fmt.Errorf("会員の取得に失敗しました: %w", err))
	}
	if member == nil {
		return nil, model.NewMemberNotFoundError(memberID)
	}
	return member, nil
}

// RegisterBook は蔵書を貸出可能な状態で登録する。
func (s *Service) RegisterBook(ctx context.Context, cmd RegisterBookCommand) (*model.Book, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	book := &model.Book{
		Title:              strings.TrimSpace(cmd.Title),
		Author:             strings.TrimSpace(cmd.Author),
		ISBN:               strings.TrimSpace(cmd.ISBN),
		AvailabilityStatus: model.AvailabilityAvailable,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos) error {
		return r.Books.Create(ctx, book)
	})
	if err != nil {
		return nil, model.NewStoreError(fmt.Errorf("蔵書の登録に失敗しました: %w", err))
	}

	s.logger.Info("蔵書を登録しました", slog.Int64("book_id", book.ID), slog.String("title", book.Title))
	return book, nil
}

// GetBook は指定IDの蔵書を返す。
func (s *Service) GetBook(ctx context.Context, bookID int64) (*model.Book, error) {
	if bookID <= 0 {
		return nil, model.NewValidationError("book_id must be positive")
	}
	book, err := s.uow.Repos().Books.FindByID(ctx, bookID)
	if err != nil {
		return nil, model.NewStoreError(fmt.Errorf("蔵書の取得に失敗しました: %w", err))
	}
	if book == nil {
		return nil, model.NewBookNotFoundError(bookID)
	}
	return book, nil
}
