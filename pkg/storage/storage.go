// Package storage contains the object stores used to keep uploaded traces.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.etcd.io/bbolt"
)

var ErrNotFound = errors.New("storage: not found")

// Storage represents an interface capable of storing objects.
// Traces are expected to be in general <32kb compressed, and absolutely <1MB,
// hence no io.Reader support.
type Storage interface {
	// Return ErrNotFound on object not found.
	Get(ctx context.Context, id string) ([]byte, error)
	// Overwrite if id exists.
	Put(ctx context.Context, id string, data []byte) error
	// Return nil on not found.
	Del(ctx context.Context, id string) error
}

// ListStorage adds the List operation to Storage, allowing to list all
// available objects.
type ListStorage interface {
	Storage
	// Callers should NOT retain b, rather make a copy if needed.
	List(ctx context.Context, cb func(id string, b []byte) error) error
}

// S3 storage
// -----------------------------------------------------------------------------

// S3Options are the connection parameters for [NewS3Storage].
type S3Options struct {
	Endpoint     string
	AccessKey    string
	AccessSecret string
	Bucket       string
	Insecure     bool
}

type minioStorage struct {
	cl         *minio.Client
	bucketName string
}

var _ Storage = (*minioStorage)(nil)

// NewS3Storage returns a Storage keeping objects in an S3-compatible bucket.
func NewS3Storage(opts S3Options) (Storage, error) {
	cl, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.AccessSecret, ""),
		Secure: !opts.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio init error: %w", err)
	}
	return &minioStorage{cl: cl, bucketName: opts.Bucket}, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func (m *minioStorage) Get(ctx context.Context, id string) ([]byte, error) {
	obj, err := m.cl.GetObject(ctx, m.bucketName, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	// GetObject is lazy; errors such as a missing key surface on Read.
	b, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (m *minioStorage) Put(ctx context.Context, id string, data []byte) error {
	_, err := m.cl.PutObject(ctx, m.bucketName, id,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: "application/gzip",
		})
	return err
}

func (m *minioStorage) Del(ctx context.Context, id string) error {
	err := m.cl.RemoveObject(ctx, m.bucketName, id, minio.RemoveObjectOptions{})
	if err != nil && isNoSuchKey(err) {
		return nil
	}
	return err
}

// Bolt storage
// -----------------------------------------------------------------------------

type dbStorage struct {
	db         *bbolt.DB
	bucketName []byte
}

var _ ListStorage = (*dbStorage)(nil)

// NewDBStorage creates a new DB storage, additionally ensuring that the given
// bucketName exists in the db.
//
// It panics if db.Update returns an error.
func NewDBStorage(db *bbolt.DB, bucketName []byte) ListStorage {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		panic(fmt.Errorf("error creating bucket in db: %w", err))
	}
	return &dbStorage{
		db:         db,
		bucketName: bucketName,
	}
}

func (m *dbStorage) Get(ctx context.Context, id string) ([]byte, error) {
	var val []byte
	err := m.db.View(func(tx *bbolt.Tx) error {
		// copy out: bolt values are only valid within the transaction.
		val = append(val, tx.Bucket(m.bucketName).Get([]byte(id))...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(val) == 0 {
		return nil, ErrNotFound
	}
	return val, nil
}

func (m *dbStorage) Put(ctx context.Context, id string, data []byte) error {
	return m.db.Batch(func(tx *bbolt.Tx) error {
		return tx.Bucket(m.bucketName).Put([]byte(id), data)
	})
}

func (m *dbStorage) Del(ctx context.Context, id string) error {
	return m.db.Batch(func(tx *bbolt.Tx) error {
		return tx.Bucket(m.bucketName).Delete([]byte(id))
	})
}

func (m *dbStorage) List(ctx context.Context, cb func(id string, b []byte) error) error {
	return m.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(m.bucketName).ForEach(func(k, v []byte) error {
			return cb(string(k), v)
		})
	})
}
