package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotify_DeliversEvent(t *testing.T) {
	var received atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		received.Store(ev)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, zerolog.Nop())
	n.Notify(context.Background(), Event{Type: EventObjectPut, Bucket: "b", Key: "k"})

	require.Eventually(t, func() bool {
		ev, ok := received.Load().(Event)
		return ok && ev.Bucket == "b" && ev.Key == "k"
	}, 2*time.Second, 10*time.Millisecond)
}

// pester retries on transport-level errors, not on HTTP status codes
// (the teacher's HttpHook checks resp.StatusCode after a successful
// Do() the same way), so a 500 response is delivered exactly once.
func TestNotify_DoesNotRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(srv.URL, zerolog.Nop())
	n.Notify(context.Background(), Event{Type: EventUploadCompleted, Bucket: "b"})

	require.Eventually(t, func() bool {
		return attempts.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, attempts.Load())
}

func TestNotify_NoopWithoutURL(t *testing.T) {
	n := New("", zerolog.Nop())
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), Event{Type: EventObjectDeleted})
	})
}
