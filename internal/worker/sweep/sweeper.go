// Package sweep は延滞判定のバックグラウンド処理を提供する。
// 返却期限を過ぎた未返却の貸出を延滞に遷移させ、罰金を1件ずつ発生させる。
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/libman/internal/ids"
	"github.com/hitoshi/libman/internal/model"
)

// OverdueMarker は延滞判定の実行インターフェース。
type OverdueMarker interface {
	// OverdueCandidates は延滞判定の対象となる貸出を (DueAt, LoanID) の昇順で
	// afterより後ろから最大limit件返す。afterがnilの場合は先頭から返す。
	OverdueCandidates(ctx context.Context, after *model.OverdueCandidate, limit int) ([]model.OverdueCandidate, error)
	// MarkOverdue は1件の貸出に延滞判定を適用し、罰金を発生させた場合にtrueを返す。
	MarkOverdue(ctx context.Context, loanID int64, runID string) (bool, error)
}

// Recorder はスイープ結果のメトリクスを記録するインターフェース。
type Recorder interface {
	RecordSweep(failed int, duration time.Duration)
}

// Result はスイープ1回分の結果。
type Result struct {
	RunID    string        `json:"run_id"`
	Scanned  int           `json:"scanned"`
	Marked   int           `json:"marked"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"-"`
}

// Sweeper は延滞スイープのスケジューリングと並列制御を行う。
// 同時に実行されるスイープは1つまでで、実行中の呼び出しはSweepInProgressエラーとなる。
type Sweeper struct {
	marker         OverdueMarker
	recorder       Recorder
	logger         *slog.Logger
	maxConcurrency int
	batchSize      int
	running        sync.Mutex
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合は4、batchSizeが0以下の場合は500を使用する。
// recorderはnilでもよい。
func NewSweeper(marker OverdueMarker, recorder Recorder, logger *slog.Logger, maxConcurrency, batchSize int) *Sweeper {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Sweeper{
		marker:         marker,
		recorder:       recorder,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		batchSize:      batchSize,
	}
}

// Start は指定間隔のティッカーでスイープを起動する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("延滞スイープを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
		slog.Int("batch_size", s.batchSize),
	)

	s.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("延滞スイープを停止しました")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Sweeper) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("延滞スイープの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は延滞判定の対象を取得し、並列で延滞判定を適用する。
// 個々の貸出の失敗はログに記録して件数に数え、処理は継続する。
// 対象は最後に取得したキーより後ろから次のバッチを取得するため、
// 失敗した貸出は同一実行内で再取得せず、後続の貸出の処理は止まらない。
// バッチがbatchSize未満で返った時点で終了する。
func (s *Sweeper) RunOnce(ctx context.Context) (*Result, error) {
	if !s.running.TryLock() {
		return nil, model.NewSweepInProgressError()
	}
	defer s.running.Unlock()

	start := time.Now()
	result := &Result{RunID: ids.New()}
	logger := s.logger.With(slog.String("run_id", result.RunID))

	var cursor *model.OverdueCandidate
	for {
		candidates, err := s.marker.OverdueCandidates(ctx, cursor, s.batchSize)
		if err != nil {
			return nil, fmt.Errorf("延滞対象の取得に失敗しました: %w", err)
		}
		if len(candidates) == 0 {
			break
		}

		loanIDs := make([]int64, 0, len(candidates))
		for _, c := range candidates {
			loanIDs = append(loanIDs, c.LoanID)
		}
		marked, failed := s.processBatch(ctx, logger, result.RunID, loanIDs)
		result.Scanned += len(candidates)
		result.Marked += marked
		result.Failed += failed

		last := candidates[len(candidates)-1]
		cursor = &last
		if len(candidates) < s.batchSize || ctx.Err() != nil {
			break
		}
	}

	result.Duration = time.Since(start)
	if s.recorder != nil {
		s.recorder.RecordSweep(result.Failed, result.Duration)
	}

	logger.Info("延滞スイープが完了しました",
		slog.Int("scanned", result.Scanned),
		slog.Int("marked", result.Marked),
		slog.Int("failed", result.Failed),
		slog.Float64("duration_ms", float64(result.Duration.Milliseconds())),
	)
	return result, nil
}

// processBatch はsemaphoreパターンで並列数を制御しながら1バッチを処理する。
func (s *Sweeper) processBatch(ctx context.Context, logger *slog.Logger, runID string, loanIDs []int64) (marked, failed int) {
	var markedCount, failedCount atomic.Int64
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, id := range loanIDs {
		wg.Add(1)
		sem <- struct{}{}

		go func(loanID int64) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					failedCount.Add(1)
					logger.Error("延滞判定中にpanicが発生しました",
						slog.Int64("loan_id", loanID),
						slog.Any("panic", r),
					)
				}
			}()

			ok, err := s.marker.MarkOverdue(ctx, loanID, runID)
			if err != nil {
				failedCount.Add(1)
				logger.Error("延滞判定に失敗しました",
					slog.Int64("loan_id", loanID),
					slog.String("error", err.Error()),
				)
				return
			}
			if ok {
				markedCount.Add(1)
			}
		}(id)
	}

	wg.Wait()
	return int(markedCount.Load()), int(failedCount.Load())
}
