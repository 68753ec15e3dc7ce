package circulation

import (
	"context"
	"fmt"

	"github.com/hitoshi/libman/internal/model"
	"github.com/hitoshi/libman/internal/repository"
)

// EligibilityGuard は会員の貸出資格を判定する。
// 延滞中の貸出に紐づく未払い罰金が1件でもあれば、貸出・返却・延長を拒否する。
// 判定結果は保存せず、呼び出しごとに再計算する。
type EligibilityGuard struct{}

// Check は会員の貸出資格を返す。
func (EligibilityGuard) Check(ctx context.Context, fines repository.FineRepository, memberID int64) (model.Eligibility, error) {
	n, err := fines.CountUnpaidOverdueByMember(ctx, memberID)
	if err != nil {
		return model.Eligibility{}, fmt.Errorf("貸出資格の判定に失敗しました: %w", err)
	}
	return model.Eligibility{
		MemberID:           memberID,
		Blocked:            n > 0,
		UnpaidOverdueFines: n,
	}, nil
}

// Require は会員が資格停止中であればMemberBlockedエラーを返す。
func (g EligibilityGuard) Require(ctx context.Context, fines repository.FineRepository, memberID int64) error {
	e, err := g.Check(ctx, fines, memberID)
	if err != nil {
		return err
	}
	if e.Blocked {
		return model.NewMemberBlockedError(memberID)
	}
	return nil
}
