package ledger

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/tripledger/internal/model"
)

// compareRecords は表示順を決める。
// サーバータイムスタンプ未確定のものが先頭、その後は作成日時の降順、同時刻はID昇順。
func compareRecords(a, b model.Expense) int {
	switch {
	case a.Pending() && !b.Pending():
		return -1
	case !a.Pending() && b.Pending():
		return 1
	case !a.Pending() && !b.Pending():
		if c := b.CreatedAt.Compare(*a.CreatedAt); c != 0 {
			return c
		}
	}
	return strings.Compare(a.ID, b.ID)
}

// sortedCopy はスナップショットのレコードを表示順に並べた複製を返す。
func sortedCopy(records []model.Expense) []model.Expense {
	out := make([]model.Expense, len(records))
	copy(out, records)
	slices.SortFunc(out, compareRecords)
	return out
}

func sum(records []model.Expense) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Amount)
	}
	return total
}

func sumByCurrency(records []model.Expense) map[model.Currency]decimal.Decimal {
	totals := make(map[model.Currency]decimal.Decimal)
	for _, r := range records {
		totals[r.Currency] = totals[r.Currency].Add(r.Amount)
	}
	return totals
}
