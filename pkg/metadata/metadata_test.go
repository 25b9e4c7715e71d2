package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	dir := t.TempDir()
	repo, err := Open(context.Background(), filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestEnsureUser_IsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.EnsureUser(ctx, "AKIAMINIO", "s3cret"))
	require.NoError(t, repo.EnsureUser(ctx, "AKIAMINIO", "different-secret-ignored"))

	u, err := repo.GetUserByAccessKey(ctx, "AKIAMINIO")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", u.SecretKey)
}

func TestCreateBucket_RejectsDuplicateName(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.EnsureUser(ctx, "AKIAMINIO", "s3cret"))
	u, err := repo.GetUserByAccessKey(ctx, "AKIAMINIO")
	require.NoError(t, err)

	_, err = repo.CreateBucket(ctx, "shared", u.ID)
	require.NoError(t, err)

	_, err = repo.CreateBucket(ctx, "shared", u.ID)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestHasAnyObject_ReflectsObjectPresence(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.EnsureUser(ctx, "AKIAMINIO", "s3cret"))
	u, _ := repo.GetUserByAccessKey(ctx, "AKIAMINIO")
	b, err := repo.CreateBucket(ctx, "b", u.ID)
	require.NoError(t, err)

	has, err := repo.HasAnyObject(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = repo.PutObject(ctx, PutObjectParams{
		BucketID: b.ID, Name: "a.txt", Size: 1, ETag: "e", Filepath: "/x", ContentType: "text/plain", Now: time.Now().UTC(),
	})
	require.NoError(t, err)

	has, err = repo.HasAnyObject(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestListObjects_PrefixMarkerAndTruncation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.EnsureUser(ctx, "AKIAMINIO", "s3cret"))
	u, _ := repo.GetUserByAccessKey(ctx, "AKIAMINIO")
	b, err := repo.CreateBucket(ctx, "b", u.ID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := repo.PutObject(ctx, PutObjectParams{
			BucketID: b.ID, Name: fmt.Sprintf("k%04d", i), Size: 1, ETag: "e", Filepath: "/x",
			ContentType: "application/octet-stream", Now: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	page, err := repo.ListObjects(ctx, b.ID, "", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Objects, 2)
	assert.True(t, page.IsTruncated)
	assert.Equal(t, "k0001", page.NextMarker)
	assert.Equal(t, "k0000", page.Objects[0].Name)
	assert.Equal(t, "k0001", page.Objects[1].Name)

	page2, err := repo.ListObjects(ctx, b.ID, "", page.NextMarker, 2)
	require.NoError(t, err)
	require.Len(t, page2.Objects, 2)
	assert.Equal(t, "k0002", page2.Objects[0].Name)
	assert.Equal(t, "k0003", page2.Objects[1].Name)
	assert.True(t, page2.IsTruncated)

	page3, err := repo.ListObjects(ctx, b.ID, "", page2.NextMarker, 2)
	require.NoError(t, err)
	require.Len(t, page3.Objects, 1)
	assert.False(t, page3.IsTruncated)
	assert.Equal(t, "k0004", page3.Objects[0].Name)
}

func TestCompleteMultipartUpload_SerializesConcurrentCompletes(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.EnsureUser(ctx, "AKIAMINIO", "s3cret"))
	u, _ := repo.GetUserByAccessKey(ctx, "AKIAMINIO")
	b, err := repo.CreateBucket(ctx, "b", u.ID)
	require.NoError(t, err)

	_, err = repo.CreateMultipartUpload(ctx, "upload-1", "b", "big", time.Now().UTC())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = repo.CompleteMultipartUpload(ctx, "upload-1", func(tx *sql.Tx, upload MultipartUpload) error {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO objects (bucket_id, name, size, etag, filepath, content_type, last_modified)
					 VALUES (?, ?, ?, ?, ?, ?, ?)
					 ON CONFLICT(bucket_id, name) DO NOTHING`,
					b.ID, upload.ObjectName, 6, "etag-combined", "/path", "application/octet-stream", time.Now().UTC().Format(time.RFC3339Nano))
				return err
			})
		}(i)
	}
	wg.Wait()

	successes := 0
	notFounds := 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		default:
			notFounds++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, notFounds)

	_, err = repo.GetMultipartUpload(ctx, "upload-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutPart_ReplacesSamePartNumber(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreateMultipartUpload(ctx, "u1", "b", "k", time.Now().UTC())
	require.NoError(t, err)

	_, err = repo.PutPart(ctx, "u1", 1, "etag-v1", "/tmp/u1/part.1")
	require.NoError(t, err)
	_, err = repo.PutPart(ctx, "u1", 1, "etag-v2", "/tmp/u1/part.1")
	require.NoError(t, err)

	parts, err := repo.ListParts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "etag-v2", parts[0].ETag)
}
