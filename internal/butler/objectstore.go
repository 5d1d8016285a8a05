package butler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lsst-dm/cm-tools-sub000/internal/config"
)

// S3Config locates the object store that backs collection outputs.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

// S3ConfigFromEnv reads CM_S3_* variables.
func S3ConfigFromEnv() (S3Config, error) {
	useSSL, err := config.EnvBool("CM_S3_USE_SSL", false)
	if err != nil {
		return S3Config{}, err
	}
	cfg := S3Config{
		Endpoint:  config.EnvString("CM_S3_ENDPOINT", "localhost:9000"),
		AccessKey: config.EnvString("CM_S3_ACCESS_KEY", ""),
		SecretKey: config.EnvString("CM_S3_SECRET_KEY", ""),
		Region:    config.EnvString("CM_S3_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    config.EnvString("CM_S3_BUCKET", "butler"),
	}
	if err := cfg.Validate(); err != nil {
		return S3Config{}, err
	}
	return cfg, nil
}

func (c S3Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("CM_S3_ENDPOINT is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("CM_S3_ACCESS_KEY is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("CM_S3_SECRET_KEY is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("CM_S3_BUCKET is required")
	}
	return nil
}

// NewMinIOClient connects to the object store described by cfg.
func NewMinIOClient(cfg S3Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

// objectAPI is the part of *minio.Client the remover uses.
type objectAPI interface {
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
}

// ObjectStoreRemover deletes a collection's objects from an S3 bucket. A
// collection "a/b" owns every object under the prefix "a/b/".
type ObjectStoreRemover struct {
	client objectAPI
	bucket string
}

// NewObjectStoreRemover wraps a connected client.
func NewObjectStoreRemover(client *minio.Client, bucket string) *ObjectStoreRemover {
	return &ObjectStoreRemover{client: client, bucket: bucket}
}

// RemoveCollection deletes every object of coll. Removing an empty or
// already removed collection succeeds.
func (r *ObjectStoreRemover) RemoveCollection(ctx context.Context, coll string) (int, error) {
	coll = strings.Trim(coll, "/")
	if coll == "" {
		return 0, errors.New("remove collection: empty name")
	}

	removed := 0
	objects := r.client.ListObjects(ctx, r.bucket, minio.ListObjectsOptions{
		Prefix:    coll + "/",
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return removed, fmt.Errorf("list collection %s: %w", coll, obj.Err)
		}
		if err := r.client.RemoveObject(ctx, r.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("remove %s/%s: %w", r.bucket, obj.Key, err)
		}
		removed++
	}
	return removed, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
