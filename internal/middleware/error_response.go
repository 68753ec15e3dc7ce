package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/libman/internal/model"
)

// ErrorResponseBody は貸出・罰金・蔵書APIのエラーボディ。
// CodeはLOAN_NOT_FOUNDやMEMBER_BLOCKEDなどmodelの定義済みコード。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

func newErrorResponseBody(apiErr *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}

// WriteErrorResponse はAPIErrorをstatusCodeとともにJSONで書き込む。
// ストア障害の原因などAPIError.Errはボディに含めない。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(newErrorResponseBody(apiErr))
}

// WriteInternalServerError はINTERNAL_ERRORの500を書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
