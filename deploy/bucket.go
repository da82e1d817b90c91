package deploy

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"
)

type BucketConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	// PublicURL is the base the uploaded objects are served from. The endpoint is used when empty.
	PublicURL string `mapstructure:"public_url"`
}

// Bucket uploads the artifact to an S3-compatible bucket. Destination is "bucket" or
// "bucket/prefix". A token of the form "access:secret" overrides the configured keys.
type Bucket struct {
	cfg         BucketConfig
	concurrency int
}

func NewBucket(cfg BucketConfig) *Bucket {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &Bucket{cfg: cfg, concurrency: 4}
}

func (b *Bucket) Name() string { return "s3" }

func (b *Bucket) Deploy(ctx context.Context, t Target) (string, error) {
	bucket, prefix, _ := strings.Cut(strings.Trim(t.Destination, "/ "), "/")
	if bucket == "" {
		return "", &Error{Target: b.Name(), Err: ErrNoDestination}
	}
	access, secret := b.cfg.AccessKey, b.cfg.SecretKey
	if a, s, ok := strings.Cut(t.Token, ":"); ok {
		access, secret = a, s
	}
	if access == "" || secret == "" {
		return "", &Error{Target: b.Name(), Err: fmt.Errorf("s3 access key and secret key are required")}
	}

	client, err := minio.New(b.cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: b.cfg.UseSSL,
		Region: b.cfg.Region,
	})
	if err != nil {
		return "", &Error{Target: b.Name(), Err: fmt.Errorf("init s3 client: %w", err)}
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return "", bucketError(err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: b.cfg.Region}); err != nil {
			return "", bucketError(err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, p := range t.Files.Paths() {
		key := path.Join(prefix, p)
		content := t.Files[p]
		g.Go(func() error {
			_, err := client.PutObject(gctx, bucket, key, strings.NewReader(content), int64(len(content)), minio.PutObjectOptions{
				ContentType: contentType(key),
			})
			if err != nil {
				return fmt.Errorf("upload %s: %w", key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", bucketError(err)
	}

	return b.publicURL(bucket, prefix, t.Files), nil
}

func (b *Bucket) publicURL(bucket, prefix string, files map[string]string) string {
	base := strings.TrimSuffix(b.cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if b.cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + b.cfg.Endpoint + "/" + bucket
	}
	if prefix != "" {
		base += "/" + prefix
	}
	if _, ok := files["index.html"]; ok {
		return base + "/index.html"
	}
	return base + "/"
}

func bucketError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != 0 {
		return &Error{Target: "s3", StatusCode: resp.StatusCode, Body: resp.Message, Err: err}
	}
	return &Error{Target: "s3", Err: err}
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
