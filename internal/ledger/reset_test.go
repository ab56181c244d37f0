package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"bizworks/api_bursar/pkg/kafka"
)

var errClosed = errors.New("connection closed")

type capturePublisher struct {
	events []*kafka.TokenEvent
}

func (p *capturePublisher) PublishTokenEvent(event *kafka.TokenEvent) error {
	p.events = append(p.events, event)
	return nil
}

func TestResetDailyZeroesCounters(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE bursar.user_tokens").
		WillReturnResult(sqlmock.NewResult(0, 42))

	count, err := store.ResetDaily(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 42 {
		t.Fatalf("expected 42 accounts reset, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResetMonthlyLogsAndRestoresAtomically(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bursar.token_transactions").
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec("UPDATE bursar.user_tokens").
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec("UPDATE bursar.user_tokens ut").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	count, err := store.ResetMonthly(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 12 {
		t.Fatalf("expected 12 accounts reset, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResetsPublishResetEvents(t *testing.T) {
	store, mock := newTestStore(t)
	publisher := &capturePublisher{}
	store.SetPublisher(publisher)

	mock.ExpectExec("UPDATE bursar.user_tokens").
		WillReturnResult(sqlmock.NewResult(0, 7))

	if _, err := store.ResetDaily(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bursar.token_transactions").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("UPDATE bursar.user_tokens").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("UPDATE bursar.user_tokens ut").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := store.ResetMonthly(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(publisher.events) != 2 {
		t.Fatalf("expected 2 reset events, got %d", len(publisher.events))
	}
	daily, monthly := publisher.events[0], publisher.events[1]
	if daily.EventType != kafka.EventTokensReset || daily.Feature != "daily" || daily.Amount != 7 {
		t.Fatalf("unexpected daily reset event: %+v", daily)
	}
	if monthly.EventType != kafka.EventTokensReset || monthly.Feature != "monthly" || monthly.Amount != 3 {
		t.Fatalf("unexpected monthly reset event: %+v", monthly)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResetMonthlyRollsBackOnFailure(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bursar.token_transactions").
		WillReturnError(errClosed)
	mock.ExpectRollback()

	if _, err := store.ResetMonthly(context.Background()); err == nil {
		t.Fatal("expected error when reset logging fails")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
