package main

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserRejectsBadInput(t *testing.T) {
	ctx := context.Background()

	_, err := createUser(ctx, nil, nil, "ab", "password123", "", "")
	assert.ErrorIs(t, err, errInvalidUsername)

	_, err = createUser(ctx, nil, nil, "bad name!", "password123", "", "")
	assert.ErrorIs(t, err, errInvalidUsername)

	_, err = createUser(ctx, nil, nil, "alice", "short", "", "")
	assert.ErrorIs(t, err, errInvalidPassword)
}

func TestCreateUserCommitsUserAndBalanceTogether(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ledger := NewRewardLedger(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	user, err := createUser(context.Background(), db, ledger, "alice", "password123", "alice@example.com", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserRollsBackWhenBalanceInsertFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ledger := NewRewardLedger(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_balances").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = createUser(context.Background(), db, ledger, "alice", "password123", "", "")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
