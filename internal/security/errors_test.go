package security

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"studyai/pkg/store"
)

func TestSafeErrorMessageProduction(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"unique", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, "Duplicate entry"},
		{"foreign key wrapped", fmt.Errorf("insert file: %w", &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}), "Referenced record not found"},
		{"privilege", &pgconn.PgError{Code: pgerrcode.InsufficientPrivilege}, "Insufficient permissions"},
		{"gorm not found", gorm.ErrRecordNotFound, "Resource not found"},
		{"store not found", fmt.Errorf("delete: %w", store.ErrNotFound), "Resource not found"},
		{"other pg code", &pgconn.PgError{Code: pgerrcode.SerializationFailure, Message: "secret detail"}, "An error occurred processing your request"},
		{"plain", errors.New("dial tcp 10.0.0.1:5432: refused"), "An error occurred processing your request"},
		{"nil", nil, "An error occurred processing your request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SafeErrorMessage(tc.err, false); got != tc.want {
				t.Fatalf("SafeErrorMessage = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSafeErrorMessageDevelopment(t *testing.T) {
	if got := SafeErrorMessage(errors.New("boom"), true); got != "boom" {
		t.Fatalf("expected raw message, got %q", got)
	}
	if got := SafeErrorMessage(nil, true); got != "Internal server error" {
		t.Fatalf("expected fallback, got %q", got)
	}
}
