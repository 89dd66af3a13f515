package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/tripledger/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, syncErr *model.SyncError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     syncErr.Code,
		Message:  syncErr.Message,
		Category: string(syncErr.Kind),
		Action:   syncErr.Action,
	})
}

// StatusForError はエラーの分類に対応するHTTPステータスコードを返す。
//   - validation: 400
//   - write（未初期化）: 503
//   - write: 502
//   - auth、subscription: 503
//   - その他: 500
func StatusForError(err error) int {
	var se *model.SyncError
	if !errors.As(err, &se) {
		return http.StatusInternalServerError
	}
	switch se.Kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindWrite:
		if se.Code == model.ErrCodeNotReady {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	case model.KindAuth, model.KindSubscription:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError はerrを分類に応じたステータスコードと統一フォーマットで書き込む。
// SyncError以外のエラーは詳細を隠して500を返す。
func WriteError(w http.ResponseWriter, err error) {
	var se *model.SyncError
	if !errors.As(err, &se) {
		WriteInternalServerError(w)
		return
	}
	WriteErrorResponse(w, StatusForError(err), se)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
