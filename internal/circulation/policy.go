// Package circulation は貸出・返却・延長・延滞判定・罰金支払いのドメインロジックを提供する。
package circulation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Policy は貸出期間と延滞罰金額の設定。
type Policy struct {
	LoanPeriod time.Duration
	FineAmount decimal.Decimal
}

// DefaultPolicy は貸出期間30日、罰金5の既定ポリシーを返す。
func DefaultPolicy() Policy {
	return Policy{
		LoanPeriod: 30 * 24 * time.Hour,
		FineAmount: decimal.NewFromInt(5),
	}
}

// Validate はポリシーの値が正であることを検証する。
func (p Policy) Validate() error {
	if p.LoanPeriod <= 0 {
		return fmt.Errorf("loan period must be positive: %s", p.LoanPeriod)
	}
	if !p.FineAmount.IsPositive() {
		return fmt.Errorf("fine amount must be positive: %s", p.FineAmount)
	}
	return nil
}
