// Package clock は現在時刻の取得を抽象化する。
// 貸出・延長・返却・延滞判定・支払いはすべてClock経由で時刻を読む。
package clock

import (
	"sync"
	"time"
)

// Clock は現在時刻を返すインターフェース。
type Clock interface {
	Now() time.Time
}

// System はシステム時計（UTC）を返すClock。
type System struct{}

// Now は現在のUTC時刻を返す。
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Manual はテスト用に任意の時刻を設定できるClock。
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual は指定時刻で停止したManualを生成する。
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

// Now は設定されている時刻を返す。
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set は時刻を設定する。
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}

// Advance は時刻をdだけ進める。
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

var (
	_ Clock = System{}
	_ Clock = (*Manual)(nil)
)
