package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/libman/internal/model"
)

// maxBodyBytes はリクエストボディの最大サイズ。
const maxBodyBytes = 64 << 10

// decodeJSON はリクエストボディを型付きの構造体にデコードする。
// 未知のフィールドや複数のJSON値を含むボディは検証エラーとする。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewValidationError("request body is empty")
		}
		return model.NewValidationError(fmt.Sprintf("malformed JSON body: %v", err))
	}
	if dec.More() {
		return model.NewValidationError("request body must contain a single JSON object")
	}
	return nil
}

// writeJSON は値をJSONでレスポンスに書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// pathID はURLパスパラメータから正のIDを取得する。
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewValidationError(fmt.Sprintf("%s must be a positive integer: %q", name, raw))
	}
	return id, nil
}

// queryPage はクエリパラメータpageを取得する。未指定の場合は1。
func queryPage(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("page")
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0, model.NewValidationError(fmt.Sprintf("page must be a positive integer: %q", raw))
	}
	return page, nil
}

// queryOptionalID は任意指定のIDクエリパラメータを取得する。未指定の場合はnil。
func queryOptionalID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, model.NewValidationError(fmt.Sprintf("%s must be a positive integer: %q", name, raw))
	}
	return &id, nil
}
