// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency は支出の通貨を表す。換算は行わない。
type Currency string

const (
	// CurrencyJPY は日本円。
	CurrencyJPY Currency = "JPY"
	// CurrencyTWD は新台湾ドル。
	CurrencyTWD Currency = "TWD"
)

// Currencies はサポートする通貨を表示順で返す。
func Currencies() []Currency {
	return []Currency{CurrencyJPY, CurrencyTWD}
}

// ParseCurrency は文字列を通貨に変換する。大文字小文字は区別しない。
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Currencies() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unsupported currency: %q", s)
}

// Expense は同期済みの支出レコードを表す。
// CreatedAtはサーバーが付与するタイムスタンプで、書き込みが往復するまではnil。
type Expense struct {
	ID          string
	Amount      decimal.Decimal
	Description string
	Currency    Currency
	CreatedAt   *time.Time
}

// Pending はサーバータイムスタンプが未確定かどうかを返す。
func (e Expense) Pending() bool {
	return e.CreatedAt == nil
}

// ExpenseDraft はユーザー入力による未保存の支出。
// Amountは入力文字列のまま保持し、検証時に数値化する。
type ExpenseDraft struct {
	Amount      string
	Description string
	Currency    Currency
}
