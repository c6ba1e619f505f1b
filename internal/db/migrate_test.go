package db

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func existsRow(present bool) *mockRow {
	return &mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*bool) = present
		return nil
	}}
}

func countRow(pending, conflicts int64) *mockRow {
	return &mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*int64) = pending
		*dest[1].(*int64) = conflicts
		return nil
	}}
}

func isColumnCheck(sql string) bool { return strings.Contains(sql, "information_schema.columns") }
func isCount(sql string) bool       { return strings.Contains(sql, "COUNT(*)") }

func TestPaymentRefMigration_NoLegacyColumn(t *testing.T) {
	db := new(mockDBTX)
	m := NewPaymentRefMigration(db, nil)

	db.On("QueryRow", mock.Anything, mock.MatchedBy(isColumnCheck), mock.Anything).Return(existsRow(false))

	report, err := m.Run(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, report.LegacyColumnPresent)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentRefMigration_DryRun(t *testing.T) {
	db := new(mockDBTX)
	m := NewPaymentRefMigration(db, nil)

	db.On("QueryRow", mock.Anything, mock.MatchedBy(isColumnCheck), mock.Anything).Return(existsRow(true))
	db.On("QueryRow", mock.Anything, mock.MatchedBy(isCount), mock.Anything).Return(countRow(4, 0))

	report, err := m.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int64(4), report.Pending)
	assert.False(t, report.Dropped)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentRefMigration_Apply(t *testing.T) {
	db := new(mockDBTX)
	m := NewPaymentRefMigration(db, nil)

	db.On("QueryRow", mock.Anything, mock.MatchedBy(isColumnCheck), mock.Anything).Return(existsRow(true))
	db.On("QueryRow", mock.Anything, mock.MatchedBy(isCount), mock.Anything).Return(countRow(4, 0))
	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "SET payment_reference = "+LegacyPaymentColumn)
	}), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 4"), nil)
	db.On("Exec", mock.Anything, "ALTER TABLE orders DROP COLUMN "+LegacyPaymentColumn, mock.Anything).
		Return(pgconn.NewCommandTag("ALTER TABLE"), nil)

	report, err := m.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(4), report.Copied)
	assert.True(t, report.Dropped)
	db.AssertExpectations(t)
}

func TestPaymentRefMigration_ConflictsAbort(t *testing.T) {
	db := new(mockDBTX)
	m := NewPaymentRefMigration(db, nil)

	db.On("QueryRow", mock.Anything, mock.MatchedBy(isColumnCheck), mock.Anything).Return(existsRow(true))
	db.On("QueryRow", mock.Anything, mock.MatchedBy(isCount), mock.Anything).Return(countRow(4, 2))

	report, err := m.Run(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, int64(2), report.Conflicts)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}
