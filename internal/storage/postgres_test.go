package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendguard/internal/digest"
)

func TestPostgresMigrate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS spendguard_ledger").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	s := NewPostgresWithDB(mock, msk)
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoadLedger(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT set_name, record").
		WithArgs("42", "1001").
		WillReturnRows(pgxmock.NewRows([]string{"set_name", "record"}).
			AddRow("suppressed", []byte(`{"daytime":"2024-05-10 09:30:00","id_banner":"7","state":"off","spent_all_time":350}`)).
			AddRow("restored", []byte(`{"daytime":"2024-05-10 10:30:00","id_banner":"8","state":"on"}`)).
			AddRow("restored", []byte(`garbage`)))
	mock.ExpectQuery("SELECT record").
		WithArgs("42", "1001").
		WillReturnRows(pgxmock.NewRows([]string{"record"}).
			AddRow([]byte(`{"daytime":"2024-05-10 09:30:00","id_banner":"7","state":"off"}`)))

	s := NewPostgresWithDB(mock, msk)
	l, err := s.LoadLedger(context.Background(), Key{User: "42", Account: "1001"})
	require.NoError(t, err)
	assert.True(t, l.IsSuppressed("7"))
	assert.True(t, l.IsRestored("8"))
	assert.Len(t, l.History(), 1)
	assert.Empty(t, l.Pending())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveLedger(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT set_name, record").WithArgs("42", "1001").
		WillReturnRows(pgxmock.NewRows([]string{"set_name", "record"}))
	mock.ExpectQuery("SELECT record").WithArgs("42", "1001").
		WillReturnRows(pgxmock.NewRows([]string{"record"}))

	s := NewPostgresWithDB(mock, msk)
	k := Key{User: "42", Account: "1001"}
	l, err := s.LoadLedger(context.Background(), k)
	require.NoError(t, err)
	suppressOne(t, l, "7")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM spendguard_ledger").WithArgs("42", "1001").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO spendguard_ledger").
		WithArgs("42", "1001", "7", "suppressed", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO spendguard_history").
		WithArgs("42", "1001", "7", "off", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveLedger(context.Background(), k, l))
	assert.Empty(t, l.Pending())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveLedgerRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewPostgresWithDB(mock, msk)
	l := ledgerWithOneSuppression(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM spendguard_ledger").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO spendguard_ledger").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = s.SaveLedger(context.Background(), Key{User: "42", Account: "1001"}, l)
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, l.Pending(), 1, "pending history survives a failed save")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresNotifyState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewPostgresWithDB(mock, msk)
	k := Key{User: "42", Account: "1001"}
	sent := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT last_sent").WithArgs("42", "1001").
		WillReturnRows(pgxmock.NewRows([]string{"last_sent"}).AddRow(sent))
	st, err := s.LoadNotifyState(context.Background(), k)
	require.NoError(t, err)
	require.NotNil(t, st.LastSent)
	assert.True(t, st.LastSent.Equal(sent))

	mock.ExpectExec("INSERT INTO spendguard_notify_state").
		WithArgs("42", "1001", sent).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.SaveNotifyState(context.Background(), k, digest.State{LastSent: &sent}))

	assert.NoError(t, mock.ExpectationsWereMet())
}
