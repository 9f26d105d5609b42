package security

import (
	"errors"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"studyai/pkg/store"
)

const (
	msgGeneric    = "An error occurred processing your request"
	msgInternal   = "Internal server error"
	msgDuplicate  = "Duplicate entry"
	msgMissingRef = "Referenced record not found"
	msgForbidden  = "Insufficient permissions"
	msgNotFound   = "Resource not found"
)

// SafeErrorMessage returns a client-safe message for err. In development
// the raw message is returned; otherwise only known database conditions
// are named and everything else collapses to a generic message.
func SafeErrorMessage(err error, isDevelopment bool) string {
	if isDevelopment {
		if err == nil || strings.TrimSpace(err.Error()) == "" {
			return msgInternal
		}
		return err.Error()
	}
	if err == nil {
		return msgGeneric
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return msgDuplicate
		case pgerrcode.ForeignKeyViolation:
			return msgMissingRef
		case pgerrcode.InsufficientPrivilege:
			return msgForbidden
		}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, store.ErrNotFound) {
		return msgNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return msgDuplicate
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return msgMissingRef
	}
	return msgGeneric
}
