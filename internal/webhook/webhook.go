// Package webhook notifies an external HTTP endpoint of object
// lifecycle events (object committed, object deleted, upload
// completed, upload aborted), replacing the teacher's gRPC/process
// hook transports with a single retried HTTP POST. A notifier is
// best-effort: delivery failures are logged, never propagated to the
// request that triggered the event.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethgrid/pester"
)

const (
	defaultMaxRetries = 5
	defaultBackoff    = 1 * time.Second
)

// Event is a single lifecycle notification delivered as a JSON POST body.
type Event struct {
	Type      string    `json:"type"`
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key,omitempty"`
	UploadID  string    `json:"upload_id,omitempty"`
	ETag      string    `json:"etag,omitempty"`
	Size      int64     `json:"size,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	EventObjectPut       = "object:put"
	EventObjectDeleted   = "object:deleted"
	EventUploadCompleted = "upload:completed"
	EventUploadAborted   = "upload:aborted"
	EventBucketCreated   = "bucket:created"
	EventBucketDeleted   = "bucket:deleted"
)

// Notifier posts Events to a configured URL. A zero-value URL disables
// delivery entirely; Notify becomes a no-op.
type Notifier struct {
	url        string
	maxRetries int
	backoff    time.Duration
	logger     zerolog.Logger
}

// New returns a Notifier posting to url. An empty url disables delivery.
func New(url string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		url:        url,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		logger:     logger.With().Str("component", "webhook").Logger(),
	}
}

// Notify delivers ev in the background, retrying transient failures
// with pester's linear backoff. It never blocks the caller past
// enqueueing the goroutine, and it never returns an error to the
// caller: a lifecycle event is best-effort, not part of the
// operation's success contract.
func (n *Notifier) Notify(ctx context.Context, ev Event) {
	if n == nil || n.url == "" {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error().Err(err).Str("event", ev.Type).Msg("failed to marshal webhook event")
		return
	}

	go func() {
		if err := n.deliver(body); err != nil {
			n.logger.Error().Err(err).Str("event", ev.Type).Msg("webhook delivery failed permanently")
		}
	}()
}

func (n *Notifier) deliver(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := pester.New()
	client.KeepLog = true
	client.MaxRetries = n.maxRetries
	client.Backoff = func(_ int) time.Duration { return n.backoff }

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return errDeliveryFailed(resp.StatusCode)
	}
	return nil
}

type errDeliveryFailed int

func (e errDeliveryFailed) Error() string {
	return "webhook: endpoint returned status " + http.StatusText(int(e))
}
