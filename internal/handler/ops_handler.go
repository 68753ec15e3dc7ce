package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/libman/internal/worker/sweep"
)

// SweepRunner は延滞スイープを1回実行するインターフェース。
type SweepRunner interface {
	RunOnce(ctx context.Context) (*sweep.Result, error)
}

// HealthChecker はデータストアの疎通確認を行うインターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// sweepResponse はスイープ結果のAPIレスポンス。
type sweepResponse struct {
	RunID      string  `json:"run_id"`
	Scanned    int     `json:"scanned"`
	Marked     int     `json:"marked"`
	Failed     int     `json:"failed"`
	DurationMs float64 `json:"duration_ms"`
}

// NewSweepHandler は延滞スイープを手動実行するハンドラーを返す。
// POST /api/sweeps
func NewSweepHandler(runner SweepRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := runner.RunOnce(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, sweepResponse{
			RunID:      result.RunID,
			Scanned:    result.Scanned,
			Marked:     result.Marked,
			Failed:     result.Failed,
			DurationMs: float64(result.Duration.Microseconds()) / 1000,
		})
	}
}

// NewHealthHandler はデータストアへの疎通を確認するハンドラーを返す。
// 疎通できない場合は503を返す。
// GET /health
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if err := checker.PingContext(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
