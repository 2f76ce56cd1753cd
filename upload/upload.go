// Package upload mirrors export files to S3-compatible object storage.
// Uploads are best-effort: the local export is the source of truth and
// a run never fails because the mirror did.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pithecene-io/prospect/log"
)

// Config holds the S3 mirror configuration.
type Config struct {
	// Enabled turns the mirror on.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Bucket is the S3 bucket name (required when enabled).
	Bucket string `yaml:"bucket" json:"bucket"`
	// Prefix is the key prefix within the bucket.
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	// Region is the AWS region; empty uses the default chain.
	Region string `yaml:"region,omitempty" json:"region,omitempty"`
	// Endpoint is a custom URL for S3-compatible providers (R2, MinIO).
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible providers.
	UsePathStyle bool `yaml:"use_path_style,omitempty" json:"use_path_style,omitempty"`
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Bucket == "" {
		return errors.New("upload bucket is required")
	}
	return nil
}

// ParseS3Path parses "bucket/prefix" or "bucket".
func ParseS3Path(p string) (bucket, prefix string) {
	parts := strings.SplitN(p, "/", 2)
	bucket = parts[0]
	if len(parts) > 1 {
		prefix = parts[1]
	}
	return bucket, prefix
}

// objectPutter is the slice of the S3 API the uploader needs; tests
// swap in a fake.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader mirrors files into one bucket/prefix.
type Uploader struct {
	client objectPutter
	config Config
	logger *log.Logger
}

// New builds an uploader using the AWS SDK default credential chain
// (env vars, shared config, IAM role).
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Uploader{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		config: cfg,
		logger: logger,
	}, nil
}

// contentTypes maps export extensions to MIME types.
var contentTypes = map[string]string{
	".csv":     "text/csv",
	".json":    "application/json",
	".jsonl":   "application/x-ndjson",
	".geojson": "application/geo+json",
	".xlsx":    "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// key builds the object key {prefix}/{retailer}/{filename}.
func (u *Uploader) key(retailer, file string) string {
	return path.Join(u.config.Prefix, retailer, filepath.Base(file))
}

// Mirror uploads each local file under the retailer's prefix. Failures
// are logged and counted, not fatal; the first error is returned so the
// caller can surface it in run stats.
func (u *Uploader) Mirror(ctx context.Context, retailer string, files []string) error {
	var firstErr error
	for _, file := range files {
		if err := u.put(ctx, retailer, file); err != nil {
			u.logger.Warn("export mirror failed", map[string]any{
				"file":  file,
				"error": err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		u.logger.Info("export mirrored", map[string]any{
			"file":   filepath.Base(file),
			"bucket": u.config.Bucket,
		})
	}
	return firstErr
}

func (u *Uploader) put(ctx context.Context, retailer, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	key := u.key(retailer, file)
	in := &s3.PutObjectInput{
		Bucket: &u.config.Bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	}
	if ct, ok := contentTypes[filepath.Ext(file)]; ok {
		in.ContentType = &ct
	}
	_, err = u.client.PutObject(ctx, in)
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", u.config.Bucket, key, err)
	}
	return nil
}
