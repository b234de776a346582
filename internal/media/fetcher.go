package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// FetchError wraps any failure to materialize a video blob locally.
type FetchError struct {
	Locator string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("FetchError: %s: %v", e.Locator, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// objectGetter is the slice of the S3 API the fetcher needs.
type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config controls the object-store client.
type Config struct {
	Bucket    string // default bucket for bare-key locators
	Region    string
	Endpoint  string // optional custom endpoint (MinIO etc.)
	PathStyle bool
	TempDir   string // empty means the OS default
}

// Fetcher downloads video blobs from the object store into local temp files.
type Fetcher struct {
	client  objectGetter
	bucket  string
	tempDir string
}

// New builds a fetcher with a real S3 client.
func New(ctx context.Context, cfg Config) (*Fetcher, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: cfg.PathStyle,
					SigningRegion:     cfg.Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
	})
	return &Fetcher{client: client, bucket: cfg.Bucket, tempDir: cfg.TempDir}, nil
}

// Fetch downloads the blob named by locator to a fresh temp file and returns
// its path plus a cleanup func. Ownership of the file transfers to the
// caller; cleanup must run on every exit path, success or not, and is safe
// to call more than once.
func (f *Fetcher) Fetch(ctx context.Context, locator string) (string, func(), error) {
	bucket, key, err := parseLocator(locator, f.bucket)
	if err != nil {
		return "", nil, &FetchError{Locator: locator, Err: err}
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", nil, &FetchError{Locator: locator, Err: fmt.Errorf("get object: %w", err)}
	}
	defer out.Body.Close()

	tmp, err := os.CreateTemp(f.tempDir, "upload-*"+extensionFor(key))
	if err != nil {
		return "", nil, &FetchError{Locator: locator, Err: fmt.Errorf("create temp file: %w", err)}
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, &FetchError{Locator: locator, Err: fmt.Errorf("download: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, &FetchError{Locator: locator, Err: fmt.Errorf("close temp file: %w", err)}
	}

	return tmp.Name(), cleanup, nil
}

// parseLocator splits "s3://bucket/key" locators; a bare key resolves
// against the configured default bucket.
func parseLocator(locator, defaultBucket string) (bucket, key string, err error) {
	if trimmed, ok := strings.CutPrefix(locator, "s3://"); ok {
		bucket, key, ok = strings.Cut(trimmed, "/")
		if !ok || bucket == "" || key == "" {
			return "", "", fmt.Errorf("malformed locator %q", locator)
		}
		return bucket, key, nil
	}
	if locator == "" {
		return "", "", fmt.Errorf("empty locator")
	}
	if defaultBucket == "" {
		return "", "", fmt.Errorf("bare key %q but no default bucket configured", locator)
	}
	return defaultBucket, strings.TrimPrefix(locator, "/"), nil
}

// extensionFor derives the temp-file suffix from the key, defaulting to .mp4.
func extensionFor(key string) string {
	if ext := path.Ext(key); ext != "" {
		return ext
	}
	return ".mp4"
}
