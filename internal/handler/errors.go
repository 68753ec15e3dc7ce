package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/libman/internal/middleware"
	"github.com/hitoshi/libman/internal/model"
)

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// ストア障害の内部原因はログにのみ出力する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = model.NewStoreError(err)
	}

	status := statusForKind(apiErr.Kind)
	if status == http.StatusInternalServerError {
		slog.Error("internal server error",
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
	}
	middleware.WriteErrorResponse(w, status, apiErr)
}

// statusForKind はエラー種別からHTTPステータスコードにマッピングする。
func statusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	case model.KindBlocked:
		return http.StatusForbidden
	case model.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
