package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/s3compat/server/internal/webhook"
	"github.com/s3compat/server/pkg/handler"
	"github.com/s3compat/server/pkg/memorylocker"
	"github.com/s3compat/server/pkg/metadata"
	"github.com/s3compat/server/pkg/metrics"
	"github.com/s3compat/server/pkg/objectstore"
)

// Composer holds every long-lived component wired together at
// startup, mirroring the teacher's StoreComposer as a plain struct of
// concrete dependencies rather than a registry of optional backends —
// this server has exactly one storage and one metadata backend.
type Composer struct {
	Objects  *objectstore.Store
	Metadata *metadata.Repository
	Metrics  *metrics.Metrics
	Handler  *handler.Handler
}

// NewComposer builds every component from Flags and seeds the root
// credentials from MINIO_ACCESS_KEY/MINIO_SECRET_KEY, failing hard if
// either is unset.
func NewComposer(ctx context.Context) (*Composer, error) {
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY must both be set")
	}

	store := objectstore.New(Flags.StorageRoot)
	if err := store.EnsureRoot(); err != nil {
		return nil, fmt.Errorf("ensure storage root: %w", err)
	}

	repo, err := metadata.Open(ctx, Flags.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open metadata repository: %w", err)
	}

	if err := repo.EnsureUser(ctx, accessKey, secretKey); err != nil {
		return nil, fmt.Errorf("seed root credentials: %w", err)
	}

	m := metrics.New()
	if err := m.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	notifier := webhook.New(Flags.WebhookURL, Logger)

	h, err := handler.New(handler.Config{
		Objects:              store,
		Metadata:             repo,
		Locker:               memorylocker.New(),
		Logger:               Logger,
		RateLimitBytesPerSec: Flags.RateLimitBytesPerSec,
		Webhook:              notifier,
		Metrics:              m,
	})
	if err != nil {
		return nil, fmt.Errorf("construct handler: %w", err)
	}

	return &Composer{Objects: store, Metadata: repo, Metrics: m, Handler: h}, nil
}
