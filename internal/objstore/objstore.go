// Package objstore defines the ObjectStore interface the compactor
// and builder upload path write SSTs through, plus two
// implementations: an S3-compatible client built on minio-go/v7, and
// an in-memory test double. The wire protocol of the backing object
// store is a named, out-of-scope collaborator; this package only fixes
// the interface and a concrete binding to it.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/streamkv/streamkv/internal/sstbuilder"
)

// CachePolicy hints how an uploaded object should be treated by any
// read-side caching layer; it is opaque to the object store itself.
type CachePolicy int

const (
	// CacheFill indicates the object should be eagerly warmed into the
	// read cache after upload.
	CacheFill CachePolicy = iota
	// CacheSkip indicates no special caching treatment is needed.
	CacheSkip
)

// ObjectStore is the storage backend SSTs are persisted to and
// deleted from, keyed by SST id.
type ObjectStore interface {
	Put(ctx context.Context, info sstbuilder.SstableInfo, data []byte, policy CachePolicy) error
	Get(ctx context.Context, id uint64) ([]byte, error)
	Delete(ctx context.Context, id uint64) error
	List(ctx context.Context, prefix string) ([]uint64, error)
}

func objectName(id uint64) string {
	return fmt.Sprintf("sst/%d.sst", id)
}

// S3Options configures an S3ObjectStore.
type S3Options struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
}

// S3ObjectStore persists SSTs to an S3-compatible bucket via
// minio-go/v7.
type S3ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewS3ObjectStore dials an S3-compatible endpoint per opts.
func NewS3ObjectStore(opts S3Options) (*S3ObjectStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: dial s3 endpoint %s: %w", opts.Endpoint, err)
	}
	return &S3ObjectStore{client: client, bucket: opts.Bucket}, nil
}

func (s *S3ObjectStore) Put(ctx context.Context, info sstbuilder.SstableInfo, data []byte, policy CachePolicy) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName(info.ID), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("objstore: put sst %d: %w", info.ID, err)
	}
	return nil
}

func (s *S3ObjectStore) Get(ctx context.Context, id uint64) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("objstore: get sst %d: %w", id, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("objstore: read sst %d: %w", id, err)
	}
	return data, nil
}

func (s *S3ObjectStore) Delete(ctx context.Context, id uint64) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectName(id), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("objstore: delete sst %d: %w", id, err)
	}
	return nil
}

func (s *S3ObjectStore) List(ctx context.Context, prefix string) ([]uint64, error) {
	var ids []uint64
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: "sst/" + prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("objstore: list objects: %w", obj.Err)
		}
		if id, ok := parseObjectID(obj.Key); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func parseObjectID(key string) (uint64, bool) {
	name := strings.TrimPrefix(key, "sst/")
	name = strings.TrimSuffix(name, ".sst")
	id, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// MemObjectStore is an in-memory ObjectStore test double.
type MemObjectStore struct {
	mu      sync.Mutex
	objects map[uint64][]byte
}

// NewMemObjectStore constructs an empty in-memory store.
func NewMemObjectStore() *MemObjectStore {
	return &MemObjectStore{objects: make(map[uint64][]byte)}
}

func (m *MemObjectStore) Put(ctx context.Context, info sstbuilder.SstableInfo, data []byte, policy CachePolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[info.ID] = cp
	return nil
}

func (m *MemObjectStore) Delete(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, id)
	return nil
}

func (m *MemObjectStore) List(ctx context.Context, prefix string) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uint64
	for id := range m.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Get returns the raw bytes stored for id.
func (m *MemObjectStore) Get(ctx context.Context, id uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[id]
	if !ok {
		return nil, fmt.Errorf("objstore: sst %d not found", id)
	}
	return data, nil
}

// GetOK is Get without the context/error ceremony, for test
// assertions that only care whether the object exists.
func (m *MemObjectStore) GetOK(id uint64) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[id]
	return data, ok
}
