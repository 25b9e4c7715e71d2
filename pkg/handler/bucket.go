package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/s3compat/server/internal/webhook"
	"github.com/s3compat/server/pkg/metadata"
	"github.com/s3compat/server/pkg/s3xml"
)

func (h *Handler) handleHeadBucket(w http.ResponseWriter, r *http.Request, rt route) error {
	if _, err := h.lookupOwnedBucket(r, requireUser(r), rt.bucket); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) handleCreateBucket(w http.ResponseWriter, r *http.Request, rt route) error {
	ctx := r.Context()
	user := requireUser(r)

	if _, err := h.cfg.Metadata.GetBucketByName(ctx, rt.bucket); err == nil {
		return errBucketAlreadyOwnedByYou
	} else if !errors.Is(err, metadata.ErrNotFound) {
		return internalError(err)
	}

	if err := h.cfg.Objects.CreateBucket(rt.bucket); err != nil {
		return internalError(err)
	}

	if _, err := h.cfg.Metadata.CreateBucket(ctx, rt.bucket, user.ID); err != nil {
		if errors.Is(err, metadata.ErrAlreadyExists) {
			return errBucketAlreadyOwnedByYou
		}
		return internalError(err)
	}

	h.cfg.Webhook.Notify(ctx, webhook.Event{
		Type: webhook.EventBucketCreated, Bucket: rt.bucket, Timestamp: time.Now().UTC(),
	})

	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) handleDeleteBucket(w http.ResponseWriter, r *http.Request, rt route) error {
	ctx := r.Context()
	bucket, err := h.lookupOwnedBucket(r, requireUser(r), rt.bucket)
	if err != nil {
		return err
	}

	hasObjects, err := h.cfg.Metadata.HasAnyObject(ctx, bucket.ID)
	if err != nil {
		return internalError(err)
	}
	if hasObjects {
		return errBucketNotEmpty
	}

	if err := h.cfg.Objects.DeleteBucket(rt.bucket); err != nil {
		return internalError(err)
	}
	if err := h.cfg.Metadata.DeleteBucket(ctx, bucket.ID); err != nil {
		return internalError(err)
	}

	h.cfg.Webhook.Notify(ctx, webhook.Event{
		Type: webhook.EventBucketDeleted, Bucket: rt.bucket, Timestamp: time.Now().UTC(),
	})

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) handleGetBucketLocation(w http.ResponseWriter, r *http.Request, rt route) error {
	if _, err := h.lookupOwnedBucket(r, requireUser(r), rt.bucket); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s3xml.EncodeLocationConstraint())
	return nil
}

func (h *Handler) handleListObjectsV2(w http.ResponseWriter, r *http.Request, rt route) error {
	ctx := r.Context()
	bucket, err := h.lookupOwnedBucket(r, requireUser(r), rt.bucket)
	if err != nil {
		return err
	}

	query := r.URL.Query()
	prefix := query.Get("prefix")
	continuationToken := query.Get("continuation-token")
	maxKeys := parseInt(query.Get("max-keys"), 1000)

	page, err := h.cfg.Metadata.ListObjects(ctx, bucket.ID, prefix, continuationToken, maxKeys)
	if err != nil {
		return internalError(err)
	}

	contents := make([]s3xml.Contents, 0, len(page.Objects))
	for _, o := range page.Objects {
		contents = append(contents, s3xml.Contents{
			Key:          o.Name,
			LastModified: o.LastModified.UTC().Format("2006-01-02T15:04:05.000000Z"),
			ETag:         o.ETag,
			Size:         o.Size,
			StorageClass: "STANDARD",
		})
	}

	doc := s3xml.EncodeListBucketResult(s3xml.ListBucketResultParams{
		Name:                  bucket.Name,
		Prefix:                prefix,
		MaxKeys:               maxKeys,
		IsTruncated:           page.IsTruncated,
		Contents:              contents,
		ContinuationToken:     continuationToken,
		NextContinuationToken: page.NextMarker,
	})

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
	return nil
}
