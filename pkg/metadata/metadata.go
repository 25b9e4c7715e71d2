// Package metadata is the transactional CRUD repository over the
// Users, Buckets, Objects, MultipartUploads, and MultipartParts schema.
// It owns the rows exclusively; pkg/objectstore owns the bytes a row
// points to. Every operation opens its own connection from the pool
// except listObjects, which is read-only and single-statement, and
// CompleteMultipartUpload, which wraps its multi-row transition in a
// transaction.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Sentinel errors returned by repository lookups. Handlers translate
// these into the S3 error codes named in the route table.
var (
	ErrNotFound      = errors.New("metadata: not found")
	ErrAlreadyExists = errors.New("metadata: already exists")
	ErrBucketNotEmpty = errors.New("metadata: bucket not empty")
	ErrUploadChanged = errors.New("metadata: upload row changed during complete")
)

// User is a seeded API credential.
type User struct {
	ID        int64
	AccessKey string
	SecretKey string
}

// Bucket is a named, owned container of objects.
type Bucket struct {
	ID      int64
	Name    string
	OwnerID int64
}

// Object is one committed (bucket, key) entry.
type Object struct {
	ID           int64
	BucketID     int64
	Name         string
	Size         int64
	ETag         string
	Filepath     string
	ContentType  string
	LastModified time.Time
}

// MultipartUpload is an in-flight upload transaction.
type MultipartUpload struct {
	ID         string
	BucketName string
	ObjectName string
	CreatedAt  time.Time
}

// MultipartPart is one uploaded part belonging to a MultipartUpload.
type MultipartPart struct {
	ID         int64
	UploadID   string
	PartNumber int
	ETag       string
	Filepath   string
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	access_key TEXT NOT NULL UNIQUE,
	secret_key TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS buckets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	owner_id INTEGER NOT NULL REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS objects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bucket_id INTEGER NOT NULL REFERENCES buckets(id),
	name TEXT NOT NULL,
	size INTEGER NOT NULL,
	etag TEXT NOT NULL,
	filepath TEXT NOT NULL,
	content_type TEXT NOT NULL,
	last_modified TIMESTAMP NOT NULL,
	UNIQUE(bucket_id, name)
);

CREATE TABLE IF NOT EXISTS multipart_uploads (
	id TEXT PRIMARY KEY,
	bucket_name TEXT NOT NULL,
	object_name TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS multipart_parts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	upload_id TEXT NOT NULL REFERENCES multipart_uploads(id) ON DELETE CASCADE,
	part_number INTEGER NOT NULL,
	etag TEXT NOT NULL,
	filepath TEXT NOT NULL,
	UNIQUE(upload_id, part_number)
);
`

// Repository wraps a *sql.DB configured for SQLite's single-writer
// model: a single open connection serializes writes in-process, and
// BEGIN IMMEDIATE transactions take SQLite's reserved write lock up
// front rather than on first write, giving the same exclusion a
// "SELECT ... FOR UPDATE" would on a server database.
type Repository struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database at path and
// ensures the schema exists.
func Open(ctx context.Context, path string) (*Repository, error) {
	// _txlock=immediate makes every sql.Tx take SQLite's RESERVED write
	// lock as soon as it begins, rather than on its first write. That's
	// what gives CompleteMultipartUpload the same exclusion a
	// "SELECT ... FOR UPDATE" would: a second Complete on the same
	// upload blocks until the first either commits or rolls back.
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite is single-writer; keeping exactly one connection in the
	// pool makes that property hold without extra coordination.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// EnsureUser inserts a user with the given access/secret key pair if
// none exists yet for that access key. Used only at bootstrap.
func (r *Repository) EnsureUser(ctx context.Context, accessKey, secretKey string) error {
	_, err := r.GetUserByAccessKey(ctx, accessKey)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO users (access_key, secret_key) VALUES (?, ?)`, accessKey, secretKey)
	return err
}

// GetUserByAccessKey looks up a user by access key.
func (r *Repository) GetUserByAccessKey(ctx context.Context, accessKey string) (User, error) {
	var u User
	err := r.db.QueryRowContext(ctx, `SELECT id, access_key, secret_key FROM users WHERE access_key = ?`, accessKey).
		Scan(&u.ID, &u.AccessKey, &u.SecretKey)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// GetBucketByName looks up a bucket by its globally unique name.
func (r *Repository) GetBucketByName(ctx context.Context, name string) (Bucket, error) {
	var b Bucket
	err := r.db.QueryRowContext(ctx, `SELECT id, name, owner_id FROM buckets WHERE name = ?`, name).
		Scan(&b.ID, &b.Name, &b.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return Bucket{}, ErrNotFound
	}
	return b, err
}

// CreateBucket inserts a new bucket row. Returns ErrAlreadyExists if
// the name is taken.
func (r *Repository) CreateBucket(ctx context.Context, name string, ownerID int64) (Bucket, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO buckets (name, owner_id) VALUES (?, ?)`, name, ownerID)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return Bucket{}, ErrAlreadyExists
		}
		return Bucket{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Bucket{}, err
	}
	return Bucket{ID: id, Name: name, OwnerID: ownerID}, nil
}

// HasAnyObject reports whether bucketID has at least one object,
// without materializing the set — a LIMIT 1 existence probe rather
// than loading a back-reference collection.
func (r *Repository) HasAnyObject(ctx context.Context, bucketID int64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE bucket_id = ? LIMIT 1`, bucketID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// DeleteBucket removes the bucket row. Callers must have already
// verified the bucket has no objects.
func (r *Repository) DeleteBucket(ctx context.Context, bucketID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM buckets WHERE id = ?`, bucketID)
	return err
}

// GetObject looks up an object by (bucket, name).
func (r *Repository) GetObject(ctx context.Context, bucketID int64, name string) (Object, error) {
	var o Object
	var lastModified string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, bucket_id, name, size, etag, filepath, content_type, last_modified
		 FROM objects WHERE bucket_id = ? AND name = ?`, bucketID, name).
		Scan(&o.ID, &o.BucketID, &o.Name, &o.Size, &o.ETag, &o.Filepath, &o.ContentType, &lastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return Object{}, ErrNotFound
	}
	if err != nil {
		return Object{}, err
	}
	o.LastModified, err = time.Parse(time.RFC3339Nano, lastModified)
	return o, err
}

// PutObjectParams is the row content PutObject and CompleteMultipartUpload write.
type PutObjectParams struct {
	BucketID    int64
	Name        string
	Size        int64
	ETag        string
	Filepath    string
	ContentType string
	Now         time.Time
}

// PutObject inserts or replaces the object row for (bucket, name).
func (r *Repository) PutObject(ctx context.Context, p PutObjectParams) (Object, error) {
	if err := putObject(ctx, r.db, p); err != nil {
		return Object{}, err
	}
	return r.GetObject(ctx, p.BucketID, p.Name)
}

// PutObjectTx is PutObject run against an already-open transaction, for
// use inside the fn passed to CompleteMultipartUpload.
func (r *Repository) PutObjectTx(ctx context.Context, tx *sql.Tx, p PutObjectParams) error {
	return putObject(ctx, tx, p)
}

func putObject(ctx context.Context, q querier, p PutObjectParams) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO objects (bucket_id, name, size, etag, filepath, content_type, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bucket_id, name) DO UPDATE SET
		   size = excluded.size,
		   etag = excluded.etag,
		   filepath = excluded.filepath,
		   content_type = excluded.content_type,
		   last_modified = excluded.last_modified`,
		p.BucketID, p.Name, p.Size, p.ETag, p.Filepath, p.ContentType, p.Now.Format(time.RFC3339Nano))
	return err
}

// DeleteObject removes the object row. Idempotent: deleting a row that
// doesn't exist is not an error.
func (r *Repository) DeleteObject(ctx context.Context, bucketID int64, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM objects WHERE bucket_id = ? AND name = ?`, bucketID, name)
	return err
}

// ListObjectsPage is one page of ListObjectsV2 results.
type ListObjectsPage struct {
	Objects     []Object
	IsTruncated bool
	NextMarker  string
}

// ListObjects returns objects in bucketID whose name begins with
// prefix and is strictly greater than marker (when marker is
// non-empty), ordered by name ascending. It fetches limit+1 rows to
// detect truncation without a second round-trip.
func (r *Repository) ListObjects(ctx context.Context, bucketID int64, prefix, marker string, limit int) (ListObjectsPage, error) {
	likePattern := escapeLikePrefix(prefix) + "%"
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, bucket_id, name, size, etag, filepath, content_type, last_modified
		 FROM objects
		 WHERE bucket_id = ? AND name LIKE ? ESCAPE '\' AND name > ?
		 ORDER BY name ASC
		 LIMIT ?`,
		bucketID, likePattern, marker, limit+1)
	if err != nil {
		return ListObjectsPage{}, err
	}
	defer rows.Close()

	var objects []Object
	for rows.Next() {
		var o Object
		var lastModified string
		if err := rows.Scan(&o.ID, &o.BucketID, &o.Name, &o.Size, &o.ETag, &o.Filepath, &o.ContentType, &lastModified); err != nil {
			return ListObjectsPage{}, err
		}
		o.LastModified, err = time.Parse(time.RFC3339Nano, lastModified)
		if err != nil {
			return ListObjectsPage{}, err
		}
		objects = append(objects, o)
	}
	if err := rows.Err(); err != nil {
		return ListObjectsPage{}, err
	}

	page := ListObjectsPage{Objects: objects}
	if len(objects) > limit {
		page.IsTruncated = true
		page.Objects = objects[:limit]
		page.NextMarker = objects[limit-1].Name
	}
	return page, nil
}

// escapeLikePrefix escapes SQLite LIKE metacharacters in a literal
// prefix so it can be safely embedded with a trailing "%".
func escapeLikePrefix(prefix string) string {
	out := make([]byte, 0, len(prefix))
	for i := 0; i < len(prefix); i++ {
		switch prefix[i] {
		case '\\', '%', '_':
			out = append(out, '\\')
		}
		out = append(out, prefix[i])
	}
	return string(out)
}

// CreateMultipartUpload inserts a new upload row.
func (r *Repository) CreateMultipartUpload(ctx context.Context, id, bucketName, objectName string, now time.Time) (MultipartUpload, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO multipart_uploads (id, bucket_name, object_name, created_at) VALUES (?, ?, ?, ?)`,
		id, bucketName, objectName, now.Format(time.RFC3339Nano))
	if err != nil {
		return MultipartUpload{}, err
	}
	return MultipartUpload{ID: id, BucketName: bucketName, ObjectName: objectName, CreatedAt: now}, nil
}

// GetMultipartUpload looks up an upload by id.
func (r *Repository) GetMultipartUpload(ctx context.Context, id string) (MultipartUpload, error) {
	return r.getMultipartUpload(ctx, r.db, id)
}

func (r *Repository) getMultipartUpload(ctx context.Context, q querier, id string) (MultipartUpload, error) {
	var u MultipartUpload
	var createdAt string
	err := q.QueryRowContext(ctx, `SELECT id, bucket_name, object_name, created_at FROM multipart_uploads WHERE id = ?`, id).
		Scan(&u.ID, &u.BucketName, &u.ObjectName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return MultipartUpload{}, ErrNotFound
	}
	if err != nil {
		return MultipartUpload{}, err
	}
	u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	return u, err
}

// PutPart inserts or replaces the part row for (uploadID, partNumber).
func (r *Repository) PutPart(ctx context.Context, uploadID string, partNumber int, etag, filepath string) (MultipartPart, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO multipart_parts (upload_id, part_number, etag, filepath) VALUES (?, ?, ?, ?)
		 ON CONFLICT(upload_id, part_number) DO UPDATE SET etag = excluded.etag, filepath = excluded.filepath`,
		uploadID, partNumber, etag, filepath)
	if err != nil {
		return MultipartPart{}, err
	}
	return MultipartPart{UploadID: uploadID, PartNumber: partNumber, ETag: etag, Filepath: filepath}, nil
}

// ListParts returns every part of uploadID ordered by part_number ascending.
func (r *Repository) ListParts(ctx context.Context, uploadID string) ([]MultipartPart, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, upload_id, part_number, etag, filepath FROM multipart_parts WHERE upload_id = ? ORDER BY part_number ASC`,
		uploadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []MultipartPart
	for rows.Next() {
		var p MultipartPart
		if err := rows.Scan(&p.ID, &p.UploadID, &p.PartNumber, &p.ETag, &p.Filepath); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// DeleteMultipartUpload deletes the upload row; its parts cascade-delete.
func (r *Repository) DeleteMultipartUpload(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM multipart_uploads WHERE id = ?`, id)
	return err
}

// LiveUploadIDs returns every multipart_uploads.id, for reconciling
// pkg/objectstore's .tmp directory at startup.
func (r *Repository) LiveUploadIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM multipart_uploads`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// LiveObjectPaths returns every objects.filepath, for reconciling
// pkg/objectstore's bucket directories at startup.
func (r *Repository) LiveObjectPaths(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT filepath FROM objects`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make(map[string]bool)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths[path] = true
	}
	return paths, rows.Err()
}

// querier is the subset of *sql.DB / *sql.Tx used inside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CompleteMultipartUpload runs fn inside a BEGIN IMMEDIATE transaction
// that first re-reads the upload row, giving fn the same exclusion a
// "SELECT ... FOR UPDATE" would: a concurrent Complete that already
// committed and deleted the row causes this one to observe ErrNotFound
// before fn runs, rather than racing on stale data. fn is expected to
// insert the Object row and delete the MultipartUpload row (via the
// passed transaction helpers) as one atomic unit.
func (r *Repository) CompleteMultipartUpload(ctx context.Context, uploadID string, fn func(tx *sql.Tx, upload MultipartUpload) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	upload, err := r.getMultipartUpload(ctx, tx, uploadID)
	if err != nil {
		return err
	}

	if err := fn(tx, upload); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM multipart_uploads WHERE id = ?`, uploadID); err != nil {
		return err
	}

	return tx.Commit()
}

func isUniqueConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
