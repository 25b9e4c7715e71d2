package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/s3compat/server/internal/iometer"
	"github.com/s3compat/server/internal/webhook"
	"github.com/s3compat/server/pkg/metadata"
)

// quoteETag wraps an unquoted hex digest in double quotes, matching
// the quoted form S3 persists and returns. It is idempotent: an
// already-quoted value passes through unchanged.
func quoteETag(etag string) string {
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		return etag
	}
	return `"` + etag + `"`
}

func setObjectHeaders(w http.ResponseWriter, o metadata.Object) {
	w.Header().Set("ETag", o.ETag)
	w.Header().Set("Content-Length", strconv.FormatInt(o.Size, 10))
	w.Header().Set("Content-Type", o.ContentType)
	w.Header().Set("Last-Modified", o.LastModified.UTC().Format(http.TimeFormat))
}

func (h *Handler) handleHeadObject(w http.ResponseWriter, r *http.Request, rt route) error {
	ctx := r.Context()
	bucket, err := h.lookupOwnedBucket(r, requireUser(r), rt.bucket)
	if err != nil {
		return err
	}

	obj, err := h.cfg.Metadata.GetObject(ctx, bucket.ID, rt.key)
	if errors.Is(err, metadata.ErrNotFound) {
		return errNoSuchKey
	}
	if err != nil {
		return internalError(err)
	}

	setObjectHeaders(w, obj)
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) handleGetObject(w http.ResponseWriter, r *http.Request, rt route) error {
	ctx := r.Context()
	bucket, err := h.lookupOwnedBucket(r, requireUser(r), rt.bucket)
	if err != nil {
		return err
	}

	obj, err := h.cfg.Metadata.GetObject(ctx, bucket.ID, rt.key)
	if errors.Is(err, metadata.ErrNotFound) {
		return errNoSuchKey
	}
	if err != nil {
		return internalError(err)
	}

	file, err := h.cfg.Objects.Open(obj.Filepath)
	if err != nil {
		return internalError(err)
	}
	defer file.Close()

	setObjectHeaders(w, obj)
	w.WriteHeader(http.StatusOK)
	n, err := io.Copy(w, file)
	if h.cfg.Metrics != nil && n > 0 {
		h.cfg.Metrics.BytesSent.Add(float64(n))
	}
	return err
}

func (h *Handler) handlePutObject(w http.ResponseWriter, r *http.Request, rt route) error {
	ctx := r.Context()
	bucket, err := h.lookupOwnedBucket(r, requireUser(r), rt.bucket)
	if err != nil {
		return err
	}

	throttled := iometer.NewThrottledReader(ctx, r.Body, h.cfg.RateLimitBytesPerSec)
	data, err := io.ReadAll(throttled)
	if err != nil {
		return internalError(err)
	}
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.BytesReceived.Add(float64(len(data)))
	}

	size, rawETag, err := h.cfg.Objects.SaveObject(rt.bucket, rt.key, data)
	if err != nil {
		return internalError(err)
	}
	etag := quoteETag(rawETag)

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = h.cfg.Metadata.PutObject(ctx, metadata.PutObjectParams{
		BucketID:    bucket.ID,
		Name:        rt.key,
		Size:        size,
		ETag:        etag,
		Filepath:    h.cfg.Objects.ObjectPath(rt.bucket, rt.key),
		ContentType: contentType,
		Now:         time.Now().UTC(),
	})
	if err != nil {
		return internalError(err)
	}

	h.cfg.Webhook.Notify(ctx, webhook.Event{
		Type: webhook.EventObjectPut, Bucket: rt.bucket, Key: rt.key, ETag: etag, Size: size, Timestamp: time.Now().UTC(),
	})

	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) handleDeleteObject(w http.ResponseWriter, r *http.Request, rt route) error {
	ctx := r.Context()
	bucket, err := h.lookupOwnedBucket(r, requireUser(r), rt.bucket)
	if err != nil {
		return err
	}

	obj, err := h.cfg.Metadata.GetObject(ctx, bucket.ID, rt.key)
	if errors.Is(err, metadata.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	if err != nil {
		return internalError(err)
	}

	if err := h.cfg.Objects.DeleteObject(obj.Filepath); err != nil {
		return internalError(err)
	}
	if err := h.cfg.Metadata.DeleteObject(ctx, bucket.ID, rt.key); err != nil {
		return internalError(err)
	}

	h.cfg.Webhook.Notify(ctx, webhook.Event{
		Type: webhook.EventObjectDeleted, Bucket: rt.bucket, Key: rt.key, Timestamp: time.Now().UTC(),
	})

	w.WriteHeader(http.StatusNoContent)
	return nil
}
