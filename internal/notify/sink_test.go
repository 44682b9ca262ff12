package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"studyhub/internal/reminder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testReminder() *reminder.Reminder {
	return &reminder.Reminder{
		ID:      "r-1",
		OwnerID: 42,
		Title:   "Flashcards #spanish",
		Type:    reminder.TypeStudy,
		Tags:    []string{"spanish"},
		DueAt:   time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := &LogSink{Log: zap.New(core)}

	require.NoError(t, s.Deliver(context.Background(), testReminder()))
	entries := logs.FilterMessage("reminder due").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "r-1", entries[0].ContextMap()["reminder_id"])
}

func TestWebhook_Deliver(t *testing.T) {
	var got webhookBody
	var idem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idem = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhook(srv.URL).Deliver(context.Background(), testReminder()))
	assert.Equal(t, "r-1", got.ReminderID)
	assert.Equal(t, uint64(42), got.OwnerID)
	assert.Equal(t, []string{"spanish"}, got.Tags)
	assert.Equal(t, "r-1@2026-05-01T09:00:00Z", idem)
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).Deliver(context.Background(), testReminder())
	assert.ErrorIs(t, err, ErrDelivery)
}

func TestMulti_JoinsErrors(t *testing.T) {
	var calls int
	ok := SinkFunc(func(context.Context, *reminder.Reminder) error { calls++; return nil })
	bad := SinkFunc(func(context.Context, *reminder.Reminder) error { calls++; return ErrDelivery })

	err := Multi{bad, ok}.Deliver(context.Background(), testReminder())
	assert.True(t, errors.Is(err, ErrDelivery))
	assert.Equal(t, 2, calls)
	assert.NoError(t, Multi{ok}.Deliver(context.Background(), testReminder()))
}
