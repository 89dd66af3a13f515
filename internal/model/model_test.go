package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		input   string
		want    Currency
		wantErr bool
	}{
		{"JPY", CurrencyJPY, false},
		{"twd", CurrencyTWD, false},
		{"  jpy ", CurrencyJPY, false},
		{"USD", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCurrency(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCurrency(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCurrency(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpense_Pending(t *testing.T) {
	e := Expense{ID: "a"}
	if !e.Pending() {
		t.Error("CreatedAtがnilの場合はPendingであるべき")
	}

	now := time.Now()
	e.CreatedAt = &now
	if e.Pending() {
		t.Error("CreatedAtが確定している場合はPendingではないべき")
	}
}

func TestSyncError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewWriteError(cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if !strings.Contains(err.Error(), ErrCodeWriteFailed) {
		t.Errorf("Error() = %q, want code %s", err.Error(), ErrCodeWriteFailed)
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("Error() = %q, want cause text", err.Error())
	}

	plain := NewEmptyDescriptionError()
	if strings.Contains(plain.Error(), "<nil>") {
		t.Errorf("Error() without cause = %q", plain.Error())
	}
}

func TestIsKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
		want bool
	}{
		{"validation", NewInvalidAmountError("-1"), KindValidation, true},
		{"not ready is write", NewNotReadyError(), KindWrite, true},
		{"subscription", NewSubscriptionError(errors.New("x")), KindSubscription, true},
		{"auth", NewAuthError("anonymous", errors.New("x")), KindAuth, true},
		{"wrapped", fmt.Errorf("failed to append: %w", NewWriteError(nil)), KindWrite, true},
		{"different kind", NewInvalidCurrencyError("USD"), KindWrite, false},
		{"plain error", errors.New("x"), KindValidation, false},
		{"nil", nil, KindValidation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsKind(tt.err, tt.kind); got != tt.want {
				t.Errorf("IsKind() = %v, want %v", got, tt.want)
			}
		})
	}
}
