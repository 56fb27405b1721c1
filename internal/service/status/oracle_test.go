package status

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMockDB creates a new mock database for testing.
func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresOracle) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db, mock, &PostgresOracle{db: db}
}

func TestPostgresOracle_IsFinished(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		want      bool
		wantErr   bool
	}{
		{
			name: "finished conversation",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT m.fkid_conversation, r.is_finished").
					WithArgs("Bob").
					WillReturnRows(sqlmock.NewRows([]string{"fkid_conversation", "is_finished"}).AddRow(42, true))
			},
			want: true,
		},
		{
			name: "conversation still open",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT m.fkid_conversation, r.is_finished").
					WithArgs("Bob").
					WillReturnRows(sqlmock.NewRows([]string{"fkid_conversation", "is_finished"}).AddRow(42, false))
			},
			want: false,
		},
		{
			name: "null result is not finished",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT m.fkid_conversation, r.is_finished").
					WithArgs("Bob").
					WillReturnRows(sqlmock.NewRows([]string{"fkid_conversation", "is_finished"}).AddRow(42, nil))
			},
			want: false,
		},
		{
			name: "no record is not finished",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT m.fkid_conversation, r.is_finished").
					WithArgs("Bob").
					WillReturnRows(sqlmock.NewRows([]string{"fkid_conversation", "is_finished"}))
			},
			want: false,
		},
		{
			name: "database error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT m.fkid_conversation, r.is_finished").
					WithArgs("Bob").
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, oracle := setupMockDB(t)
			tt.setupMock(mock)

			got, err := oracle.IsFinished(context.Background(), "Bob")
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "query chat status")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestNewPostgresOracleRequiresDSN(t *testing.T) {
	_, err := NewPostgresOracle("", nil)
	require.Error(t, err)
}

func TestPostgresOracle_CloseNil(t *testing.T) {
	var oracle *PostgresOracle
	assert.NoError(t, oracle.Close())
}
