package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/tripledger/internal/auth"
	"github.com/hitoshi/tripledger/internal/model"
)

// SessionSource はセッションハンドラーが必要とするIDの状態。
// auth.Bootstrapperが実装する。
type SessionSource interface {
	Identity() model.Identity
	Ready() bool
	Method() auth.Method
}

// SessionHandler はセッション情報のHTTPハンドラー。
type SessionHandler struct {
	source SessionSource
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(source SessionSource) *SessionHandler {
	return &SessionHandler{source: source}
}

// sessionResponse はセッション情報のAPIレスポンス。
type sessionResponse struct {
	UserID   string `json:"user_id"`
	Method   string `json:"method"`
	Degraded bool   `json:"degraded"`
	Ready    bool   `json:"ready"`
}

// GetSession は現在のセッションIDを返す。
// GET /api/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := h.source.Identity()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessionResponse{
		UserID:   id.UserID,
		Method:   string(h.source.Method()),
		Degraded: id.Degraded,
		Ready:    h.source.Ready(),
	})
}
