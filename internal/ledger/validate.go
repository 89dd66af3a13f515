package ledger

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/tripledger/internal/model"
	"github.com/hitoshi/tripledger/internal/store"
)

// Sanitizer は説明文からマークアップを取り除くインターフェース。
type Sanitizer interface {
	SanitizeText(s string) string
}

// amountScale は金額の小数点以下の最大桁数。expenses.amount列 NUMERIC(18, 4) と一致させる。
const amountScale = 4

// maxAmount は金額の上限（この値を含まない）。NUMERIC(18, 4) の整数部14桁。
var maxAmount = decimal.New(1, 14)

// Validate は入力を検証し、ストアへ書き込むドキュメントに変換する。
// 通貨が空の場合はdefaultCurrencyを使用する。sanitizerはnilでもよい。
// 作成日時は常にサーバータイムスタンプを要求する。
func Validate(draft model.ExpenseDraft, defaultCurrency model.Currency, sanitizer Sanitizer) (store.NewDocument, error) {
	raw := strings.TrimSpace(draft.Amount)
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		return store.NewDocument{}, model.NewInvalidAmountError(draft.Amount)
	}
	if !amount.Equal(amount.Truncate(amountScale)) || amount.GreaterThanOrEqual(maxAmount) {
		return store.NewDocument{}, model.NewInvalidAmountError(draft.Amount)
	}

	desc := strings.TrimSpace(draft.Description)
	if sanitizer != nil {
		desc = strings.TrimSpace(sanitizer.SanitizeText(desc))
	}
	if desc == "" {
		return store.NewDocument{}, model.NewEmptyDescriptionError()
	}

	cur := draft.Currency
	if strings.TrimSpace(string(cur)) == "" {
		cur = defaultCurrency
	}
	currency, err := model.ParseCurrency(string(cur))
	if err != nil {
		return store.NewDocument{}, model.NewInvalidCurrencyError(string(draft.Currency))
	}

	return store.NewDocument{
		Amount:      amount,
		Description: desc,
		Currency:    currency,
		CreatedAt:   store.ServerTimestamp,
	}, nil
}
