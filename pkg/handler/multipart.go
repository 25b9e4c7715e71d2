package handler

import (
	"database/sql"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/s3compat/server/internal/iometer"
	"github.com/s3compat/server/internal/uidgen"
	"github.com/s3compat/server/internal/webhook"
	"github.com/s3compat/server/pkg/metadata"
	"github.com/s3compat/server/pkg/objectstore"
	"github.com/s3compat/server/pkg/s3xml"
)

func (h *Handler) handleInitiateMultipartUpload(w http.ResponseWriter, r *http.Request, rt route) error {
	ctx := r.Context()
	if _, err := h.lookupOwnedBucket(r, requireUser(r), rt.bucket); err != nil {
		return err
	}

	uploadID := uidgen.New()
	if _, err := h.cfg.Metadata.CreateMultipartUpload(ctx, uploadID, rt.bucket, rt.key, time.Now().UTC()); err != nil {
		return internalError(err)
	}

	if h.cfg.Metrics != nil {
		h.cfg.Metrics.UploadsInitiated.Inc()
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s3xml.EncodeInitiateMultipartUpload(rt.bucket, rt.key, uploadID))
	return nil
}

func (h *Handler) handleUploadPart(w http.ResponseWriter, r *http.Request, rt route) error {
	ctx := r.Context()
	if _, err := h.lookupOwnedBucket(r, requireUser(r), rt.bucket); err != nil {
		return err
	}

	query := r.URL.Query()
	uploadID := query.Get("uploadId")
	partNumber := parseInt(query.Get("partNumber"), 0)
	if partNumber <= 0 {
		return errInvalidPart
	}

	upload, err := h.cfg.Metadata.GetMultipartUpload(ctx, uploadID)
	if errors.Is(err, metadata.ErrNotFound) {
		return errNoSuchUpload
	}
	if err != nil {
		return internalError(err)
	}
	if upload.BucketName != rt.bucket || upload.ObjectName != rt.key {
		return errNoSuchUpload
	}

	throttled := iometer.NewThrottledReader(ctx, r.Body, h.cfg.RateLimitBytesPerSec)
	data, err := io.ReadAll(throttled)
	if err != nil {
		return internalError(err)
	}
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.BytesReceived.Add(float64(len(data)))
	}

	path, rawETag, err := h.cfg.Objects.SavePart(uploadID, partNumber, data)
	if err != nil {
		return internalError(err)
	}

	if _, err := h.cfg.Metadata.PutPart(ctx, uploadID, partNumber, rawETag, path); err != nil {
		return internalError(err)
	}

	w.Header().Set("ETag", quoteETag(rawETag))
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) handleCompleteMultipartUpload(w http.ResponseWriter, r *http.Request, rt route) error {
	ctx := r.Context()
	bucket, err := h.lookupOwnedBucket(r, requireUser(r), rt.bucket)
	if err != nil {
		return err
	}

	query := r.URL.Query()
	uploadID := query.Get("uploadId")

	release, err := h.cfg.Locker.Lock(ctx, uploadID)
	if err != nil {
		return internalError(err)
	}
	defer release()

	upload, err := h.cfg.Metadata.GetMultipartUpload(ctx, uploadID)
	if errors.Is(err, metadata.ErrNotFound) {
		return errNoSuchUpload
	}
	if err != nil {
		return internalError(err)
	}
	if upload.BucketName != rt.bucket || upload.ObjectName != rt.key {
		return errNoSuchUpload
	}

	clientParts, err := s3xml.ParseCompleteMultipartUpload(r.Body)
	if err != nil {
		return errMalformedXML
	}

	storedParts, err := h.cfg.Metadata.ListParts(ctx, uploadID)
	if err != nil {
		return internalError(err)
	}
	storedByNumber := make(map[int]metadata.MultipartPart, len(storedParts))
	for _, p := range storedParts {
		storedByNumber[p.PartNumber] = p
	}

	if len(clientParts) == 0 {
		return errInvalidPart
	}

	for _, cp := range clientParts {
		sp, ok := storedByNumber[cp.PartNumber]
		if !ok || sp.ETag != cp.ETag {
			return errInvalidPart
		}
	}
	combineParts := lo.Map(clientParts, func(cp s3xml.CompletedPart, _ int) objectstore.Part {
		sp := storedByNumber[cp.PartNumber]
		return objectstore.Part{PartNumber: cp.PartNumber, Filepath: sp.Filepath}
	})

	totalSize, rawETag, err := h.cfg.Objects.CombineParts(rt.bucket, rt.key, combineParts)
	if err != nil {
		return internalError(err)
	}
	etag := quoteETag(rawETag)
	objectPath := h.cfg.Objects.ObjectPath(rt.bucket, rt.key)
	now := time.Now().UTC()

	completeErr := h.cfg.Metadata.CompleteMultipartUpload(ctx, uploadID, func(tx *sql.Tx, _ metadata.MultipartUpload) error {
		return h.cfg.Metadata.PutObjectTx(ctx, tx, metadata.PutObjectParams{
			BucketID:    bucket.ID,
			Name:        rt.key,
			Size:        totalSize,
			ETag:        etag,
			Filepath:    objectPath,
			ContentType: "application/octet-stream",
			Now:         now,
		})
	})
	if errors.Is(completeErr, metadata.ErrNotFound) {
		return errNoSuchUpload
	}
	if completeErr != nil {
		return internalError(completeErr)
	}

	if err := h.cfg.Objects.CleanupParts(uploadID); err != nil {
		h.cfg.Logger.Warn().Err(err).Str("upload_id", uploadID).Msg("failed to clean up multipart parts")
	}

	if h.cfg.Metrics != nil {
		h.cfg.Metrics.UploadsCompleted.Inc()
	}

	h.cfg.Webhook.Notify(ctx, webhook.Event{
		Type: webhook.EventUploadCompleted, Bucket: rt.bucket, Key: rt.key, UploadID: uploadID, ETag: etag, Size: totalSize, Timestamp: now,
	})

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s3xml.EncodeCompleteMultipartUpload("", rt.bucket, rt.key, etag))
	return nil
}

func (h *Handler) handleAbortMultipartUpload(w http.ResponseWriter, r *http.Request, rt route) error {
	ctx := r.Context()
	if _, err := h.lookupOwnedBucket(r, requireUser(r), rt.bucket); err != nil {
		return err
	}

	uploadID := r.URL.Query().Get("uploadId")

	release, err := h.cfg.Locker.Lock(ctx, uploadID)
	if err != nil {
		return internalError(err)
	}
	defer release()

	upload, err := h.cfg.Metadata.GetMultipartUpload(ctx, uploadID)
	if errors.Is(err, metadata.ErrNotFound) {
		return errNoSuchUpload
	}
	if err != nil {
		return internalError(err)
	}
	if upload.BucketName != rt.bucket || upload.ObjectName != rt.key {
		return errNoSuchUpload
	}

	if err := h.cfg.Metadata.DeleteMultipartUpload(ctx, uploadID); err != nil {
		return internalError(err)
	}
	if err := h.cfg.Objects.CleanupParts(uploadID); err != nil {
		h.cfg.Logger.Warn().Err(err).Str("upload_id", uploadID).Msg("failed to clean up multipart parts")
	}

	if h.cfg.Metrics != nil {
		h.cfg.Metrics.UploadsAborted.Inc()
	}

	h.cfg.Webhook.Notify(ctx, webhook.Event{
		Type: webhook.EventUploadAborted, Bucket: rt.bucket, Key: rt.key, UploadID: uploadID, Timestamp: time.Now().UTC(),
	})

	w.WriteHeader(http.StatusNoContent)
	return nil
}
