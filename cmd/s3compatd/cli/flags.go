package cli

import (
	"flag"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Flags holds every bootstrap parameter, sourced from either an
// S3COMPAT_* environment variable or its corresponding flag (flag
// wins if both are set, matching cmd/tusd/cli's convention of reading
// env-derived defaults into flag.StringVar).
var Flags struct {
	Host        string `validate:"required"`
	Port        string `validate:"required,numeric"`
	StorageRoot string `validate:"required"`
	DBPath      string `validate:"required"`

	WebhookURL           string
	RateLimitBytesPerSec float64 `validate:"gte=0"`

	ExposeMetrics bool
	MetricsPath   string `validate:"required"`

	ShutdownTimeout time.Duration `validate:"gt=0"`
}

func ParseFlags() {
	flag.Usage = printUsage

	flag.StringVar(&Flags.Host, "host", envOr("S3COMPAT_HOST", "0.0.0.0"), "Host to bind the HTTP server to")
	flag.StringVar(&Flags.Port, "port", envOr("S3COMPAT_PORT", "9000"), "Port to bind the HTTP server to")
	flag.StringVar(&Flags.StorageRoot, "storage-root", envOr("S3COMPAT_STORAGE_ROOT", "./data"), "Directory objects and in-flight multipart parts are stored under")
	flag.StringVar(&Flags.DBPath, "db-path", envOr("S3COMPAT_DB_PATH", "./data/metadata.db"), "Path to the SQLite metadata database")
	flag.StringVar(&Flags.WebhookURL, "webhook-url", envOr("S3COMPAT_WEBHOOK_URL", ""), "Optional URL notified of object and upload lifecycle events")
	flag.Float64Var(&Flags.RateLimitBytesPerSec, "rate-limit-bytes-per-sec", envOrFloat("S3COMPAT_RATE_LIMIT_BYTES_PER_SEC", 0), "Per-request throughput cap in bytes/sec for PutObject and UploadPart bodies. 0 disables throttling")
	flag.BoolVar(&Flags.ExposeMetrics, "expose-metrics", envOrBool("S3COMPAT_EXPOSE_METRICS", true), "Expose Prometheus metrics")
	flag.StringVar(&Flags.MetricsPath, "metrics-path", envOr("S3COMPAT_METRICS_PATH", "/metrics"), "Path under which the metrics endpoint is mounted")
	flag.DurationVar(&Flags.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "Grace period for in-flight requests to finish during shutdown")

	flag.Parse()

	if err := validator.New().Struct(&Flags); err != nil {
		Logger.Fatal().Err(err).Msg("invalid configuration")
	}
}

func printUsage() {
	fmt.Println("s3compatd: a minimal S3-compatible object storage server")
	flag.PrintDefaults()
}
