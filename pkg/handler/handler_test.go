package handler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/s3compat/server/pkg/memorylocker"
	"github.com/s3compat/server/pkg/metadata"
	"github.com/s3compat/server/pkg/metrics"
	"github.com/s3compat/server/pkg/objectstore"
	"github.com/s3compat/server/pkg/sigv4"
)

const (
	testAccessKey = "AKIAMINIO"
	testSecretKey = "s3cret"
)

type testEnv struct {
	handler *Handler
	repo    *metadata.Repository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store := objectstore.New(filepath.Join(dir, "objects"))
	require.NoError(t, store.EnsureRoot())

	repo, err := metadata.Open(context.Background(), filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.EnsureUser(context.Background(), testAccessKey, testSecretKey))

	h, err := New(Config{
		Objects:  store,
		Metadata: repo,
		Locker:   memorylocker.New(),
		Logger:   zerolog.Nop(),
		Metrics:  metrics.New(),
	})
	require.NoError(t, err)

	return &testEnv{handler: h, repo: repo}
}

// signedRequest builds an httptest request with a body and a valid
// SigV4 Authorization header for testAccessKey/testSecretKey.
func signedRequest(t *testing.T, method, target string, body []byte) *http.Request {
	t.Helper()

	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	sum := sha256.Sum256(body)
	r.Header.Set("host", "example.com")
	r.Header.Set("x-amz-date", "20240101T000000Z")
	r.Header.Set("x-amz-content-sha256", hex.EncodeToString(sum[:]))

	cred := sigv4.Credential{AccessKey: testAccessKey, DateStamp: "20240101", Region: "us-east-1", Service: "s3"}
	sigv4.SignRequest(r, testSecretKey, cred, []string{"host", "x-amz-content-sha256", "x-amz-date"})
	return r
}

func doRequest(t *testing.T, h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestServeHTTP_RejectsUnauthenticatedRequests(t *testing.T) {
	env := newTestEnv(t)
	r := httptest.NewRequest(http.MethodPut, "/bucket1", nil)
	w := doRequest(t, env.handler, r)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestBucketLifecycle_CreateHeadListDelete(t *testing.T) {
	env := newTestEnv(t)

	create := signedRequest(t, http.MethodPut, "/bucket1", nil)
	w := doRequest(t, env.handler, create)
	require.Equal(t, http.StatusOK, w.Code)

	head := signedRequest(t, http.MethodHead, "/bucket1", nil)
	w = doRequest(t, env.handler, head)
	require.Equal(t, http.StatusOK, w.Code)

	again := signedRequest(t, http.MethodPut, "/bucket1", nil)
	w = doRequest(t, env.handler, again)
	require.Equal(t, http.StatusConflict, w.Code)

	del := signedRequest(t, http.MethodDelete, "/bucket1", nil)
	w = doRequest(t, env.handler, del)
	require.Equal(t, http.StatusNoContent, w.Code)

	headMissing := signedRequest(t, http.MethodHead, "/bucket1", nil)
	w = doRequest(t, env.handler, headMissing)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestObjectLifecycle_PutGetHeadDelete(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, http.StatusOK, doRequest(t, env.handler, signedRequest(t, http.MethodPut, "/bucket1", nil)).Code)

	body := []byte("hello world")
	put := signedRequest(t, http.MethodPut, "/bucket1/hello.txt", body)
	w := doRequest(t, env.handler, put)
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	get := signedRequest(t, http.MethodGet, "/bucket1/hello.txt", nil)
	w = doRequest(t, env.handler, get)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, body, w.Body.Bytes())
	require.Equal(t, etag, w.Header().Get("ETag"))

	headReq := signedRequest(t, http.MethodHead, "/bucket1/hello.txt", nil)
	w = doRequest(t, env.handler, headReq)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "11", w.Header().Get("Content-Length"))

	del := signedRequest(t, http.MethodDelete, "/bucket1/hello.txt", nil)
	w = doRequest(t, env.handler, del)
	require.Equal(t, http.StatusNoContent, w.Code)

	// DeleteObject is idempotent: deleting again still returns 204.
	w = doRequest(t, env.handler, signedRequest(t, http.MethodDelete, "/bucket1/hello.txt", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	getMissing := signedRequest(t, http.MethodGet, "/bucket1/hello.txt", nil)
	w = doRequest(t, env.handler, getMissing)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestLookupOwnedBucket_HidesBucketsOwnedByOthers(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.repo.EnsureUser(context.Background(), "AKIAOTHER", "othersecret"))

	// bucket1 is created by testAccessKey.
	require.Equal(t, http.StatusOK, doRequest(t, env.handler, signedRequest(t, http.MethodPut, "/bucket1", nil)).Code)

	r := httptest.NewRequest(http.MethodHead, "/bucket1", nil)
	r.Header.Set("host", "example.com")
	r.Header.Set("x-amz-date", "20240101T000000Z")
	sum := sha256.Sum256(nil)
	r.Header.Set("x-amz-content-sha256", hex.EncodeToString(sum[:]))
	cred := sigv4.Credential{AccessKey: "AKIAOTHER", DateStamp: "20240101", Region: "us-east-1", Service: "s3"}
	sigv4.SignRequest(r, "othersecret", cred, []string{"host", "x-amz-content-sha256", "x-amz-date"})

	w := doRequest(t, env.handler, r)
	require.Equal(t, http.StatusNotFound, w.Code, "a bucket owned by another user must look identical to a missing one")
}

func TestListObjectsV2_ReturnsPutObjects(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, doRequest(t, env.handler, signedRequest(t, http.MethodPut, "/bucket1", nil)).Code)

	for _, key := range []string{"a.txt", "b.txt"} {
		w := doRequest(t, env.handler, signedRequest(t, http.MethodPut, "/bucket1/"+key, []byte(key)))
		require.Equal(t, http.StatusOK, w.Code)
	}

	list := signedRequest(t, http.MethodGet, "/bucket1?list-type=2", nil)
	w := doRequest(t, env.handler, list)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "a.txt")
	require.Contains(t, w.Body.String(), "b.txt")
}

func TestMultipartUploadLifecycle_InitiateUploadComplete(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, doRequest(t, env.handler, signedRequest(t, http.MethodPut, "/bucket1", nil)).Code)

	initiate := signedRequest(t, http.MethodPost, "/bucket1/big.bin?uploads", nil)
	w := doRequest(t, env.handler, initiate)
	require.Equal(t, http.StatusOK, w.Code)

	uploadID := extractBetween(t, w.Body.String(), "<UploadId>", "</UploadId>")
	require.NotEmpty(t, uploadID)

	part1 := bytes.Repeat([]byte{'A'}, 5*1024*1024)
	p1 := signedRequest(t, http.MethodPut, "/bucket1/big.bin?partNumber=1&uploadId="+uploadID, part1)
	w = doRequest(t, env.handler, p1)
	require.Equal(t, http.StatusOK, w.Code)
	etag1 := w.Header().Get("ETag")
	require.NotEmpty(t, etag1)

	part2 := []byte("trailer")
	p2 := signedRequest(t, http.MethodPut, "/bucket1/big.bin?partNumber=2&uploadId="+uploadID, part2)
	w = doRequest(t, env.handler, p2)
	require.Equal(t, http.StatusOK, w.Code)
	etag2 := w.Header().Get("ETag")
	require.NotEmpty(t, etag2)

	completeBody := []byte(`<CompleteMultipartUpload>` +
		`<Part><PartNumber>1</PartNumber><ETag>` + etag1 + `</ETag></Part>` +
		`<Part><PartNumber>2</PartNumber><ETag>` + etag2 + `</ETag></Part>` +
		`</CompleteMultipartUpload>`)
	complete := signedRequest(t, http.MethodPost, "/bucket1/big.bin?uploadId="+uploadID, completeBody)
	w = doRequest(t, env.handler, complete)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "<ETag>")

	get := signedRequest(t, http.MethodGet, "/bucket1/big.bin", nil)
	w = doRequest(t, env.handler, get)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, len(part1)+len(part2), w.Body.Len())

	// A second Complete on the already-finished upload must 404.
	replay := signedRequest(t, http.MethodPost, "/bucket1/big.bin?uploadId="+uploadID, completeBody)
	w = doRequest(t, env.handler, replay)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAbortMultipartUpload_SecondAbortReturnsNoSuchUpload(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, doRequest(t, env.handler, signedRequest(t, http.MethodPut, "/bucket1", nil)).Code)

	initiate := signedRequest(t, http.MethodPost, "/bucket1/big.bin?uploads", nil)
	w := doRequest(t, env.handler, initiate)
	uploadID := extractBetween(t, w.Body.String(), "<UploadId>", "</UploadId>")

	abort := signedRequest(t, http.MethodDelete, "/bucket1/big.bin?uploadId="+uploadID, nil)
	w = doRequest(t, env.handler, abort)
	require.Equal(t, http.StatusNoContent, w.Code)

	// Aborting again (upload row already gone) must 404: any future
	// reference to an aborted upload id returns NoSuchUpload.
	abortAgain := signedRequest(t, http.MethodDelete, "/bucket1/big.bin?uploadId="+uploadID, nil)
	w = doRequest(t, env.handler, abortAgain)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func extractBetween(t *testing.T, s, start, end string) string {
	t.Helper()
	i := indexOf(s, start)
	if i < 0 {
		return ""
	}
	i += len(start)
	j := indexOf(s[i:], end)
	if j < 0 {
		return ""
	}
	return s[i : i+j]
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
