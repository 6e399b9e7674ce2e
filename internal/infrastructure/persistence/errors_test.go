package persistence

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"translated by gorm", gorm.ErrDuplicatedKey, true},
		{"wrapped translation", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{"raw postgres unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "idx_inventory_tx_idempotency"}, true},
		{"other postgres error", &pgconn.PgError{Code: "23503"}, false},
		{"unrelated", errors.New("connection reset"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}
