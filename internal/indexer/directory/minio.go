package directory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/Hikikomori041/m2-projetweb/pkg/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Minio stores index files as objects under bucket/prefix. PutObject
// replaces an object atomically, which is all WriteFile needs. There is no
// cross-process lock; run a single writer per prefix.
type Minio struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioClient builds a client from configuration.
func NewMinioClient(cfg config.MinioConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client for %s: %w", cfg.Endpoint, err)
	}
	return client, nil
}

// NewMinio returns a Directory over bucket, creating the bucket if missing.
func NewMinio(ctx context.Context, client *minio.Client, bucket, prefix string) (*Minio, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", bucket, err)
		}
	}
	return &Minio{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (d *Minio) key(name string) string {
	if d.prefix == "" {
		return name
	}
	return path.Join(d.prefix, name)
}

// Open downloads the whole object; segments are small and read repeatedly.
func (d *Minio) Open(ctx context.Context, name string) (Blob, error) {
	data, err := d.ReadFile(ctx, name)
	if err != nil {
		return nil, err
	}
	return memBlob{Reader: bytes.NewReader(data)}, nil
}

func (d *Minio) ReadFile(ctx context.Context, name string) ([]byte, error) {
	obj, err := d.client.GetObject(ctx, d.bucket, d.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, d.mapErr(name, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, d.mapErr(name, err)
	}
	return data, nil
}

func (d *Minio) WriteFile(ctx context.Context, name string, data []byte) error {
	_, err := d.client.PutObject(ctx, d.bucket, d.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("putting %s: %w", name, err)
	}
	return nil
}

func (d *Minio) Remove(ctx context.Context, name string) error {
	err := d.client.RemoveObject(ctx, d.bucket, d.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	return nil
}

func (d *Minio) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := prefix
	if d.prefix != "" {
		fullPrefix = d.prefix + "/" + prefix
	}
	var names []string
	for obj := range d.client.ListObjects(ctx, d.bucket, minio.ListObjectsOptions{
		Prefix:    fullPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing %s: %w", fullPrefix, obj.Err)
		}
		name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, d.prefix), "/")
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *Minio) Close() error { return nil }

func (d *Minio) mapErr(name string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return fmt.Errorf("reading %s: %w", name, err)
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
