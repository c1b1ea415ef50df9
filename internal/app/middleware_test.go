package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingNudger struct {
	calls int
}

func (n *recordingNudger) EnqueueOutboxRelay(ctx context.Context) error {
	n.calls++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNudgeOutboxRelayAfterSuccessfulMutation(t *testing.T) {
	nudger := &recordingNudger{}
	h := NudgeOutboxRelay(nudger, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/mo", nil))
	require.Equal(t, 1, nudger.calls)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPatch, "/api/v1/mo/1/confirm", nil))
	require.Equal(t, 2, nudger.calls)
}

func TestNudgeOutboxRelaySkipsReads(t *testing.T) {
	nudger := &recordingNudger{}
	h := NudgeOutboxRelay(nudger, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/mo", nil))
	require.Zero(t, nudger.calls)
}

func TestNudgeOutboxRelaySkipsFailedMutations(t *testing.T) {
	nudger := &recordingNudger{}
	h := NudgeOutboxRelay(nudger, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/stock/reserve", nil))
	require.Zero(t, nudger.calls)
}
