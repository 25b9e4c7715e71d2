// Package handler is the S3 request dispatcher: it disambiguates
// incoming HTTP requests by (method, path, query) into one of the
// twelve operations in the route table, authenticates them via
// pkg/sigv4, enforces bucket ownership, and invokes pkg/objectstore
// and pkg/metadata to effect each operation.
package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/s3compat/server/pkg/metadata"
	"github.com/s3compat/server/pkg/sigv4"
)

// Handler is a ready-to-use http.Handler implementing the S3 route table.
type Handler struct {
	cfg Config
}

// New constructs a Handler from cfg.
func New(cfg Config) (*Handler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Handler{cfg: cfg}, nil
}

type operation string

const (
	opHeadBucket               operation = "HeadBucket"
	opCreateBucket             operation = "CreateBucket"
	opDeleteBucket             operation = "DeleteBucket"
	opGetBucketLocation        operation = "GetBucketLocation"
	opListObjectsV2            operation = "ListObjectsV2"
	opHeadObject               operation = "HeadObject"
	opGetObject                operation = "GetObject"
	opPutObject                operation = "PutObject"
	opUploadPart               operation = "UploadPart"
	opInitiateMultipartUpload  operation = "InitiateMultipartUpload"
	opCompleteMultipartUpload  operation = "CompleteMultipartUpload"
	opAbortMultipartUpload     operation = "AbortMultipartUpload"
	opDeleteObject             operation = "DeleteObject"
	opUnrecognized             operation = "Unrecognized"
)

// route is the result of resolving an incoming request to one of the
// twelve S3 operations, per §4.E's route table.
type route struct {
	op     operation
	bucket string
	key    string
}

func resolve(r *http.Request) route {
	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, hasKey := strings.Cut(path, "/")
	query := r.URL.Query()

	if bucket == "" {
		return route{op: opUnrecognized}
	}

	if !hasKey || key == "" {
		switch r.Method {
		case http.MethodHead:
			return route{op: opHeadBucket, bucket: bucket}
		case http.MethodPut:
			return route{op: opCreateBucket, bucket: bucket}
		case http.MethodDelete:
			return route{op: opDeleteBucket, bucket: bucket}
		case http.MethodGet:
			if _, ok := query["location"]; ok {
				return route{op: opGetBucketLocation, bucket: bucket}
			}
			if query.Get("list-type") == "2" {
				return route{op: opListObjectsV2, bucket: bucket}
			}
			return route{op: opUnrecognized, bucket: bucket}
		}
		return route{op: opUnrecognized, bucket: bucket}
	}

	_, hasUploadID := query["uploadId"]
	_, hasPartNumber := query["partNumber"]
	_, hasUploads := query["uploads"]

	switch r.Method {
	case http.MethodHead:
		return route{op: opHeadObject, bucket: bucket, key: key}
	case http.MethodGet:
		return route{op: opGetObject, bucket: bucket, key: key}
	case http.MethodPut:
		if hasUploadID && hasPartNumber {
			return route{op: opUploadPart, bucket: bucket, key: key}
		}
		return route{op: opPutObject, bucket: bucket, key: key}
	case http.MethodPost:
		if hasUploads {
			return route{op: opInitiateMultipartUpload, bucket: bucket, key: key}
		}
		if hasUploadID {
			return route{op: opCompleteMultipartUpload, bucket: bucket, key: key}
		}
		return route{op: opUnrecognized, bucket: bucket, key: key}
	case http.MethodDelete:
		if hasUploadID {
			return route{op: opAbortMultipartUpload, bucket: bucket, key: key}
		}
		return route{op: opDeleteObject, bucket: bucket, key: key}
	}

	return route{op: opUnrecognized, bucket: bucket, key: key}
}

// ServeHTTP authenticates, dispatches, and meters every request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	user, err := h.authenticate(r)
	if err != nil {
		writeError(w, r, err)
		h.observe(opUnrecognized, errAccessDenied.Code, start)
		return
	}
	r = r.WithContext(contextWithUser(r.Context(), user))

	rt := resolve(r)
	logger := h.cfg.Logger.With().
		Str("operation", string(rt.op)).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Logger()

	switch rt.op {
	case opHeadBucket:
		err = h.handleHeadBucket(w, r, rt)
	case opCreateBucket:
		err = h.handleCreateBucket(w, r, rt)
	case opDeleteBucket:
		err = h.handleDeleteBucket(w, r, rt)
	case opGetBucketLocation:
		err = h.handleGetBucketLocation(w, r, rt)
	case opListObjectsV2:
		err = h.handleListObjectsV2(w, r, rt)
	case opHeadObject:
		err = h.handleHeadObject(w, r, rt)
	case opGetObject:
		err = h.handleGetObject(w, r, rt)
	case opPutObject:
		err = h.handlePutObject(w, r, rt)
	case opUploadPart:
		err = h.handleUploadPart(w, r, rt)
	case opInitiateMultipartUpload:
		err = h.handleInitiateMultipartUpload(w, r, rt)
	case opCompleteMultipartUpload:
		err = h.handleCompleteMultipartUpload(w, r, rt)
	case opAbortMultipartUpload:
		err = h.handleAbortMultipartUpload(w, r, rt)
	case opDeleteObject:
		err = h.handleDeleteObject(w, r, rt)
	default:
		err = errNotImplemented
	}

	code := ""
	if err != nil {
		apiErr, ok := err.(*apiError)
		if !ok {
			apiErr = internalError(err)
		}
		code = apiErr.Code
		logger.Error().Err(apiErr).Int("status", apiErr.Status).Msg("request failed")
		writeError(w, r, apiErr)
	} else {
		logger.Info().Dur("duration", time.Since(start)).Msg("request handled")
	}

	h.observe(rt.op, code, start)
}

func (h *Handler) observe(op operation, errCode string, start time.Time) {
	if h.cfg.Metrics == nil {
		return
	}
	h.cfg.Metrics.RequestsTotal.WithLabelValues(string(op)).Inc()
	h.cfg.Metrics.RequestDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
	if errCode != "" {
		h.cfg.Metrics.ErrorsTotal.WithLabelValues(errCode).Inc()
	}
}

// authenticate verifies the request's SigV4 signature against the
// metadata repository's users table and returns the authenticated
// user. Any parse failure, unknown access key, or signature mismatch
// is surfaced as a single 403 AccessDenied, per §4.C's information-hiding
// outcome contract.
func (h *Handler) authenticate(r *http.Request) (metadata.User, error) {
	ctx := r.Context()
	var resolvedUser metadata.User

	_, err := sigv4.Verify(r, func(accessKey string) (string, bool) {
		user, err := h.cfg.Metadata.GetUserByAccessKey(ctx, accessKey)
		if err != nil {
			return "", false
		}
		resolvedUser = user
		return user.SecretKey, true
	})
	if err != nil {
		return metadata.User{}, errAccessDenied
	}
	return resolvedUser, nil
}

// lookupOwnedBucket resolves name to a bucket and enforces that user
// owns it. A bucket that exists but belongs to someone else is
// reported identically to one that doesn't exist at all — S3's
// information-hiding default (§4.E).
func (h *Handler) lookupOwnedBucket(r *http.Request, user metadata.User, name string) (metadata.Bucket, error) {
	bucket, err := h.cfg.Metadata.GetBucketByName(r.Context(), name)
	if err != nil {
		return metadata.Bucket{}, errNoSuchBucket
	}
	if bucket.OwnerID != user.ID {
		return metadata.Bucket{}, errNoSuchBucket
	}
	return bucket, nil
}

func requireUser(r *http.Request) metadata.User {
	user, _ := userFromContext(r.Context())
	return user
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
