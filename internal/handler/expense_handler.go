package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/tripledger/internal/ledger"
	"github.com/hitoshi/tripledger/internal/middleware"
	"github.com/hitoshi/tripledger/internal/model"
)

// LedgerService は支出ハンドラーが必要とする同期エンジンのインターフェース。
// ledger.Engineが実装する。
type LedgerService interface {
	// View は現在の状態の読み取り専用スナップショットを返す。
	View() ledger.View
	// Append は支出を1回だけ書き込む。ミラーへの反映は次のスナップショットで行われる。
	Append(ctx context.Context, draft model.ExpenseDraft) error
}

// ExpenseHandler は支出一覧と追記のHTTPハンドラー。
type ExpenseHandler struct {
	ledger LedgerService
}

// NewExpenseHandler はExpenseHandlerを生成する。
func NewExpenseHandler(ledger LedgerService) *ExpenseHandler {
	return &ExpenseHandler{ledger: ledger}
}

// appendExpenseRequest は支出追記リクエストのボディ。
// amountは数値と文字列のどちらでも受け付ける。
type appendExpenseRequest struct {
	Amount      json.RawMessage `json:"amount"`
	Description string          `json:"description"`
	Currency    string          `json:"currency"`
}

// expenseResponse は支出レコードのAPIレスポンス。
type expenseResponse struct {
	ID          string     `json:"id"`
	Amount      string     `json:"amount"`
	Description string     `json:"description"`
	Currency    string     `json:"currency"`
	CreatedAt   *time.Time `json:"created_at"`
	Pending     bool       `json:"pending"`
}

// expenseListResponse は支出一覧のAPIレスポンス。
type expenseListResponse struct {
	Status           string                        `json:"status"`
	Loading          bool                          `json:"loading"`
	Degraded         bool                          `json:"degraded"`
	Records          []expenseResponse             `json:"records"`
	Total            string                        `json:"total"`
	TotalsByCurrency map[string]string             `json:"totals_by_currency"`
	Error            *middleware.ErrorResponseBody `json:"error"`
}

// statusInitializing はストア未構成などで購読が始まっていない状態の表示名。
const statusInitializing = "initializing"

// ListExpenses は支出一覧と合計を返す。
// GET /api/expenses
// 購読が始まっていない場合は503で初期化中の状態を返す。
func (h *ExpenseHandler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	view := h.ledger.View()
	resp := toExpenseListResponse(view)

	statusCode := http.StatusOK
	if view.Status == ledger.StatusIdle || view.Status == ledger.StatusClosed {
		resp.Status = statusInitializing
		resp.Loading = true
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// AppendExpense は支出を追記する。
// POST /api/expenses
// 書き込みが受理されると202を返す。レコードは次のスナップショットで一覧に現れる。
func (h *ExpenseHandler) AppendExpense(w http.ResponseWriter, r *http.Request) {
	var req appendExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, model.NewInvalidRequestError())
		return
	}

	draft := model.ExpenseDraft{
		Amount:      rawAmount(req.Amount),
		Description: req.Description,
		Currency:    model.Currency(req.Currency),
	}

	if err := h.ledger.Append(r.Context(), draft); err != nil {
		var se *model.SyncError
		if !errors.As(err, &se) {
			slog.Error("unexpected append error", slog.String("error", err.Error()))
		}
		middleware.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// rawAmount はJSONの数値または文字列を入力文字列に変換する。
func rawAmount(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		s, err := strconv.Unquote(string(raw))
		if err != nil {
			return string(raw)
		}
		return s
	}
	return string(raw)
}

func toExpenseListResponse(view ledger.View) expenseListResponse {
	records := make([]expenseResponse, len(view.Records))
	for i, e := range view.Records {
		records[i] = expenseResponse{
			ID:          e.ID,
			Amount:      e.Amount.String(),
			Description: e.Description,
			Currency:    string(e.Currency),
			CreatedAt:   e.CreatedAt,
			Pending:     e.Pending(),
		}
	}

	totals := make(map[string]string, len(view.TotalsByCurrency))
	for cur, amount := range view.TotalsByCurrency {
		totals[string(cur)] = amount.String()
	}

	resp := expenseListResponse{
		Status:           string(view.Status),
		Loading:          view.Loading,
		Degraded:         view.Identity.Degraded,
		Records:          records,
		Total:            view.Total.String(),
		TotalsByCurrency: totals,
	}

	var se *model.SyncError
	if errors.As(view.Err, &se) {
		resp.Error = &middleware.ErrorResponseBody{
			Code:     se.Code,
			Message:  se.Message,
			Category: string(se.Kind),
			Action:   se.Action,
		}
	}
	return resp
}
