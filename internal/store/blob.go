package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
	"github.com/xkilldash9x/telco-harvester/internal/config"
)

// ObjectStore is the subset of *minio.Client used for bill documents.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// NewMinioObjects connects to the object storage described by cfg.
func NewMinioObjects(cfg config.StorageConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return client, nil
}

// BlobVault uploads inline documents to object storage before handing the
// records to the wrapped vault with a FileURL in place of the data URI.
type BlobVault struct {
	Vault
	objects     ObjectStore
	cfg         config.StorageConfig
	concurrency int
	logger      *zap.Logger
}

func NewBlobVault(inner Vault, objects ObjectStore, cfg config.StorageConfig, logger *zap.Logger) *BlobVault {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BlobVault{
		Vault:       inner,
		objects:     objects,
		cfg:         cfg,
		concurrency: concurrency,
		logger:      logger.Named("blobs"),
	}
}

// EnsureBucket creates the bucket if it doesn't exist
func (b *BlobVault) EnsureBucket(ctx context.Context) error {
	exists, err := b.objects.BucketExists(ctx, b.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := b.objects.MakeBucket(ctx, b.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (b *BlobVault) SaveBills(ctx context.Context, account string, records []schemas.BillRecord, opts SaveOptions) (int, error) {
	out := make([]schemas.BillRecord, len(records))
	copy(out, records)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i := range out {
		if out[i].DataURI == "" {
			continue
		}
		i := i
		g.Go(func() error {
			url, err := b.upload(gctx, account, out[i], opts)
			if err != nil {
				return err
			}
			out[i].FileURL = url
			out[i].DataURI = ""
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return b.Vault.SaveBills(ctx, account, out, opts)
}

func (b *BlobVault) upload(ctx context.Context, account string, r schemas.BillRecord, opts SaveOptions) (string, error) {
	body, contentType, err := DecodeDataURI(r.DataURI)
	if err != nil {
		return "", fmt.Errorf("bill %s: %w", r.Filename, err)
	}
	if opts.ContentType != "" {
		contentType = opts.ContentType
	}
	subPath := r.SubPath
	if subPath == "" {
		subPath = opts.SubPath
	}
	object := path.Join(account, subPath, r.Filename)
	_, err = b.objects.PutObject(ctx, b.cfg.Bucket, object, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	b.logger.Debug("Uploaded bill", zap.String("object", object), zap.Int("bytes", len(body)))
	return b.objectURL(object), nil
}

func (b *BlobVault) objectURL(object string) string {
	protocol := "http"
	if b.cfg.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, b.cfg.Endpoint, b.cfg.Bucket, object)
}

// DecodeDataURI returns the payload and media type of a base64 data URI.
func DecodeDataURI(uri string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", fmt.Errorf("not a data URI")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data URI")
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, "", fmt.Errorf("data URI is not base64 encoded")
	}
	body, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64 payload: %w", err)
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return body, mediaType, nil
}
