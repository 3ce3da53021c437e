// Package objectstore mirrors artifact versions to a MinIO-compatible object
// store. Archival is best-effort: the orchestration core never blocks on it.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/devflow-labs/devflow-go/internal/domain"
	"github.com/devflow-labs/devflow-go/internal/platform/env"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("DEVFLOW_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("DEVFLOW_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey: env.String("DEVFLOW_MINIO_ACCESS_KEY", "devflow"),
		SecretKey: env.String("DEVFLOW_MINIO_SECRET_KEY", "devflowminio"),
		Region:    env.String("DEVFLOW_MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("DEVFLOW_MINIO_BUCKET_ARTIFACTS", "run-artifacts"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("artifacts bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

func NewMinIOClient(cfg Config) (*minio.Client, error) {
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

func EnsureBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("artifacts bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return fmt.Errorf("make artifacts bucket: %w", err)
	}
	return nil
}

func CheckBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("artifacts bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("artifacts bucket missing: %s", cfg.Bucket)
	}
	return nil
}

// Archiver uploads one JSON object per artifact version under
// <run>/<type>/v<version>.json.
type Archiver struct {
	client *minio.Client
	cfg    Config
}

func NewArchiver(client *minio.Client, cfg Config) *Archiver {
	if client == nil {
		return nil
	}
	return &Archiver{client: client, cfg: cfg}
}

func (a *Archiver) ArchiveArtifact(ctx context.Context, artifact domain.Artifact) error {
	if a == nil || a.client == nil {
		return errors.New("archiver not initialized")
	}
	if err := artifact.Validate(); err != nil {
		return err
	}
	blob, err := json.Marshal(artifact.Content)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	key := ObjectKey(artifact)
	_, err = a.client.PutObject(ctx, a.cfg.Bucket, key, bytes.NewReader(blob), int64(len(blob)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"run-id":        artifact.RunID,
			"artifact-type": artifact.Type,
			"version":       fmt.Sprintf("%d", artifact.Version),
		},
	})
	if err != nil {
		return fmt.Errorf("put artifact object: %w", err)
	}
	return nil
}

func ObjectKey(artifact domain.Artifact) string {
	return fmt.Sprintf("%s/%s/v%d.json", artifact.RunID, artifact.Type, artifact.Version)
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
