// Package objectstore persists object and part bytes on a local
// filesystem rooted at a single directory. It owns byte content only;
// the metadata repository (pkg/metadata) owns the rows that describe
// it. The two are coordinated by request handlers, never by the store
// itself.
package objectstore

import (
	"crypto/md5" //nolint:gosec // S3 ETag compatibility requires MD5, not a security use.
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

var defaultDirPerm = os.FileMode(0o775)
var defaultFilePerm = os.FileMode(0o664)

// tmpDirName is reserved and must never collide with a bucket name.
const tmpDirName = ".tmp"

// Store persists object and part bytes under Root.
type Store struct {
	Root string
}

// New returns a Store rooted at root. It does not create the directory;
// call EnsureRoot for that.
func New(root string) *Store {
	return &Store{Root: root}
}

// EnsureRoot creates the storage root and its reserved tmp directory.
func (s *Store) EnsureRoot() error {
	if err := os.MkdirAll(s.Root, defaultDirPerm); err != nil {
		return err
	}
	return os.MkdirAll(s.tmpRoot(), defaultDirPerm)
}

func (s *Store) tmpRoot() string {
	return filepath.Join(s.Root, tmpDirName)
}

func (s *Store) bucketPath(bucket string) string {
	return filepath.Join(s.Root, bucket)
}

func (s *Store) objectPath(bucket, key string) string {
	return filepath.Join(s.Root, bucket, key)
}

func (s *Store) uploadTmpDir(uploadID string) string {
	return filepath.Join(s.tmpRoot(), uploadID)
}

func (s *Store) partPath(uploadID string, partNumber int) string {
	return filepath.Join(s.uploadTmpDir(uploadID), fmt.Sprintf("part.%d", partNumber))
}

// CreateBucket creates the bucket's directory. Idempotent.
func (s *Store) CreateBucket(name string) error {
	return os.MkdirAll(s.bucketPath(name), defaultDirPerm)
}

// DeleteBucket removes the bucket directory. The caller guarantees the
// bucket is empty of objects.
func (s *Store) DeleteBucket(name string) error {
	return os.RemoveAll(s.bucketPath(name))
}

// SaveObject writes the full payload to STORAGE_ROOT/<bucket>/<key>,
// creating intermediate directories for any "/" embedded in key, and
// returns its size and hex md5 ETag. A write failure leaves no file in
// place for the caller to reference, so the row is never created for
// partial content; any bytes that do land on disk before the failure
// become an orphan swept at startup.
func (s *Store) SaveObject(bucket, key string, data []byte) (size int64, etag string, err error) {
	dest := s.objectPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(dest), defaultDirPerm); err != nil {
		return 0, "", err
	}

	if err := os.WriteFile(dest, data, defaultFilePerm); err != nil {
		_ = os.Remove(dest)
		return 0, "", err
	}

	sum := md5.Sum(data) //nolint:gosec
	return int64(len(data)), fmt.Sprintf("%x", sum), nil
}

// SavePart writes part bytes to STORAGE_ROOT/.tmp/<uploadID>/part.<N>
// and returns its path and hex md5 ETag. Writing the same part number
// again overwrites the previous file in place.
func (s *Store) SavePart(uploadID string, partNumber int, data []byte) (path string, etag string, err error) {
	dir := s.uploadTmpDir(uploadID)
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return "", "", err
	}

	dest := s.partPath(uploadID, partNumber)
	if err := os.WriteFile(dest, data, defaultFilePerm); err != nil {
		return "", "", err
	}

	sum := md5.Sum(data) //nolint:gosec
	return dest, fmt.Sprintf("%x", sum), nil
}

// Part identifies one stored part file by number and its on-disk path,
// as recorded by the metadata repository.
type Part struct {
	PartNumber int
	Filepath   string
}

// CombineParts appends each part's bytes, in ascending part_number
// order, to the destination object file, removing each part file as it
// is consumed, and returns the combined size and the S3 multipart
// ETag: the hex md5 of the concatenation of each part's raw 16-byte md5
// digest, suffixed with "-<part count>".
func (s *Store) CombineParts(bucket, key string, parts []Part) (totalSize int64, etag string, err error) {
	sorted := make([]Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	dest := s.objectPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(dest), defaultDirPerm); err != nil {
		return 0, "", err
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultFilePerm)
	if err != nil {
		return 0, "", err
	}
	defer out.Close()

	digestConcat := make([]byte, 0, len(sorted)*md5.Size)
	var total int64

	for _, p := range sorted {
		in, err := os.Open(p.Filepath)
		if err != nil {
			return 0, "", err
		}

		hasher := md5.New() //nolint:gosec
		n, err := io.Copy(out, io.TeeReader(in, hasher))
		in.Close()
		if err != nil {
			return 0, "", err
		}
		total += n
		digestConcat = append(digestConcat, hasher.Sum(nil)...)

		if err := os.Remove(p.Filepath); err != nil {
			return 0, "", err
		}
	}

	finalSum := md5.Sum(digestConcat) //nolint:gosec
	etag = fmt.Sprintf("%x-%d", finalSum, len(sorted))

	// Part files are removed as they're consumed above; the tmp dir
	// itself is left for the caller's CleanupParts to reap once empty.
	return total, etag, nil
}

// CleanupParts recursively removes STORAGE_ROOT/.tmp/<uploadID>.
func (s *Store) CleanupParts(uploadID string) error {
	return os.RemoveAll(s.uploadTmpDir(uploadID))
}

// DeleteObject removes the file at path, ignoring a not-found error so
// that DeleteObject stays idempotent at the handler layer.
func (s *Store) DeleteObject(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ObjectPath exposes the on-disk path an object key resolves to, so
// callers can record it in the metadata row.
func (s *Store) ObjectPath(bucket, key string) string {
	return s.objectPath(bucket, key)
}

// Open opens a committed object for reading.
func (s *Store) Open(path string) (*os.File, error) {
	return os.Open(path)
}

// Sweep reconciles the filesystem against the metadata repository after
// an unclean shutdown. It removes every STORAGE_ROOT/.tmp/<id>
// directory whose id is not in liveUploadIDs, and every committed
// object file under STORAGE_ROOT (excluding .tmp) whose path is not in
// liveObjectPaths. Returns the counts removed, for the readiness log
// line.
func (s *Store) Sweep(liveUploadIDs map[string]bool, liveObjectPaths map[string]bool) (orphanUploads, orphanObjects int, err error) {
	tmpEntries, err := os.ReadDir(s.tmpRoot())
	if err != nil && !os.IsNotExist(err) {
		return 0, 0, err
	}
	for _, entry := range tmpEntries {
		if !entry.IsDir() || liveUploadIDs[entry.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.tmpRoot(), entry.Name())); err != nil {
			return orphanUploads, orphanObjects, err
		}
		orphanUploads++
	}

	bucketEntries, err := os.ReadDir(s.Root)
	if err != nil {
		return orphanUploads, orphanObjects, err
	}
	for _, bucketEntry := range bucketEntries {
		if !bucketEntry.IsDir() || bucketEntry.Name() == tmpDirName {
			continue
		}
		bucketDir := filepath.Join(s.Root, bucketEntry.Name())
		walkErr := filepath.Walk(bucketDir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return err
			}
			if liveObjectPaths[path] {
				return nil
			}
			if err := os.Remove(path); err != nil {
				return err
			}
			orphanObjects++
			return nil
		})
		if walkErr != nil {
			return orphanUploads, orphanObjects, walkErr
		}
	}

	return orphanUploads, orphanObjects, nil
}
