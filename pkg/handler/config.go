package handler

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/s3compat/server/internal/webhook"
	"github.com/s3compat/server/pkg/memorylocker"
	"github.com/s3compat/server/pkg/metadata"
	"github.com/s3compat/server/pkg/metrics"
	"github.com/s3compat/server/pkg/objectstore"
)

// Config configures a Handler. All fields are required except
// RateLimitBytesPerSec, Webhook, and Metrics.
type Config struct {
	// Objects is the filesystem object store backing every bucket.
	Objects *objectstore.Store
	// Metadata is the transactional repository over the schema in §3.
	Metadata *metadata.Repository
	// Locker serializes concurrent CompleteMultipartUpload calls on the
	// same upload id.
	Locker *memorylocker.MemoryLocker
	// Logger receives one structured line per request.
	Logger zerolog.Logger
	// RateLimitBytesPerSec throttles request-body ingestion for
	// PutObject and UploadPart. Zero disables throttling.
	RateLimitBytesPerSec float64
	// Webhook, if non-nil, is notified of object and upload lifecycle
	// events. A Notifier built with an empty URL is itself a no-op, so
	// this may always be set to a constructed *webhook.Notifier.
	Webhook *webhook.Notifier
	// Metrics, if non-nil, is updated with per-request counters.
	Metrics *metrics.Metrics
}

func (c Config) validate() error {
	if c.Objects == nil {
		return errors.New("handler: Config.Objects is required")
	}
	if c.Metadata == nil {
		return errors.New("handler: Config.Metadata is required")
	}
	if c.Locker == nil {
		return errors.New("handler: Config.Locker is required")
	}
	return nil
}
