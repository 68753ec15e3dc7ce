// Package model はドメインモデルを定義する。
package model

import "time"

// AvailabilityStatus は蔵書の貸出可否を表す。
type AvailabilityStatus string

const (
	// AvailabilityAvailable は貸出可能な状態。
	AvailabilityAvailable AvailabilityStatus = "available"
	// AvailabilityCheckedOut は貸出中の状態。
	AvailabilityCheckedOut AvailabilityStatus = "checked out"
)

// Book は蔵書を表す。
// 書誌情報の管理は外部の責務であり、貸出ドメインでは貸出可否のみを更新する。
// 貸出中であることと、未返却の貸出がちょうど1件存在することは同値。
type Book struct {
	ID                 int64
	Title              string
	Author             string
	ISBN               string
	AvailabilityStatus AvailabilityStatus
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsAvailable は貸出可能かどうかを返す。
func (b *Book) IsAvailable() bool {
	return b.AvailabilityStatus == AvailabilityAvailable
}

// Member は利用者（読者）を表す。
type Member struct {
	ID        int64
	Name      string
	Email     string
	CreatedAt time.Time
}
