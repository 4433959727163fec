package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseTLS    bool   `yaml:"use_tls"`
	Prefix    string `yaml:"prefix"`
}

func (c Config) Enabled() bool { return c.Endpoint != "" }

func (c Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	return nil
}

type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Uploader ships finished measurement logs to S3-compatible storage,
// zstd-compressed, once a run has ended.
type Uploader struct {
	store  objectStore
	bucket string
	prefix string
	now    func() time.Time
}

func NewUploader(cfg Config) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	return &Uploader{store: mc, bucket: cfg.Bucket, prefix: cfg.Prefix, now: time.Now}, nil
}

func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.store.BucketExists(ctx, u.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return u.store.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// UploadLog compresses the file at path and stores it under
// <prefix>/<device>/year=YYYY/month=MM/day=DD/<runID>-<name>.zst.
// It returns the object name.
func (u *Uploader) UploadLog(ctx context.Context, path, deviceID, runID string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("upload: open log: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := Compress(&buf, f); err != nil {
		return "", err
	}

	if err := u.EnsureBucket(ctx); err != nil {
		return "", fmt.Errorf("upload: bucket: %w", err)
	}

	name := fmt.Sprintf("%s-%s.zst", runID, filepath.Base(path))
	object := BuildObjectPath(u.prefix, deviceID, u.now(), name)
	_, err = u.store.PutObject(ctx, u.bucket, object, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType:     "application/zstd",
		ContentEncoding: "zstd",
	})
	if err != nil {
		return "", fmt.Errorf("upload: put %s: %w", object, err)
	}
	return object, nil
}

// Compress writes a zstd stream of r to w.
func Compress(w io.Writer, r io.Reader) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("upload: zstd: %w", err)
	}
	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		return fmt.Errorf("upload: compress: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("upload: compress: %w", err)
	}
	return nil
}

func BuildObjectPath(prefix, deviceID string, t time.Time, file string) string {
	t = t.UTC()
	p := fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/%s", deviceID, t.Year(), t.Month(), t.Day(), file)
	if prefix != "" {
		p = prefix + "/" + p
	}
	return p
}
