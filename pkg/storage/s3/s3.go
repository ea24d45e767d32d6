// Package s3 stores bxes single-file archives in AWS S3 or an S3-compatible
// service.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/logflow/bxes/pkg/codec"
	"github.com/logflow/bxes/pkg/model"
)

// Object metadata keys and content type of uploaded archives.
const (
	MetaVersion  = "bxes-version"
	MetaVariants = "bxes-variants"
	ContentType  = "application/zip"
)

// Config holds S3 client configuration.
type Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	Region string

	// Bucket is the default bucket name
	Bucket string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// Timeouts
	OperationTimeout time.Duration
	UploadTimeout    time.Duration
	DownloadTimeout  time.Duration

	// StorageClass for uploads (optional)
	StorageClass types.StorageClass
}

// DefaultConfig returns sensible defaults for S3 configuration.
func DefaultConfig(bucket, region string) Config {
	return Config{
		Bucket:           bucket,
		Region:           region,
		OperationTimeout: 30 * time.Second,
		UploadTimeout:    5 * time.Minute,
		DownloadTimeout:  5 * time.Minute,
	}
}

// API is the subset of the S3 client used here. *s3.Client implements it.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Client provides archive operations on a bucket.
type Client struct {
	cfg Config
	api API
}

// NewClient creates a new S3 client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	// Use explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewWithAPI(cfg, client), nil
}

// NewWithAPI creates a client on an existing S3 API implementation.
func NewWithAPI(cfg Config, api API) *Client {
	return &Client{cfg: cfg, api: api}
}

// Bucket returns the default bucket name.
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// --- Write Operations ---

// PushLog encodes log as a single-file archive and uploads it to key.
func (c *Client) PushLog(ctx context.Context, key string, log *model.EventLog, sys *model.SystemMetadata) error {
	var buf bytes.Buffer
	if err := codec.EncodeSingleFile(&buf, log, sys); err != nil {
		return err
	}
	return c.put(ctx, key, buf.Bytes(), map[string]string{
		MetaVersion:  strconv.FormatUint(uint64(log.Version), 10),
		MetaVariants: strconv.Itoa(len(log.Variants)),
	})
}

// Upload uploads the archive at path to key. The archive is decoded first so
// that only valid logs reach the bucket.
func (c *Client) Upload(ctx context.Context, path, key string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	res, err := codec.DecodeSingleFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%s is not a valid archive: %w", path, err)
	}
	return c.put(ctx, key, data, map[string]string{
		MetaVersion:  strconv.FormatUint(uint64(res.Log.Version), 10),
		MetaVariants: strconv.Itoa(len(res.Log.Variants)),
	})
}

func (c *Client) put(ctx context.Context, key string, data []byte, meta map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(ContentType),
		Metadata:      meta,
	}
	if c.cfg.StorageClass != "" {
		input.StorageClass = c.cfg.StorageClass
	}

	if _, err := c.api.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put object %s/%s: %w", c.cfg.Bucket, key, err)
	}
	return nil
}

// --- Read Operations ---

// PullLog downloads and decodes the archive at key.
func (c *Client) PullLog(ctx context.Context, key string) (*codec.Result, error) {
	data, err := c.get(ctx, key)
	if err != nil {
		return nil, err
	}
	return codec.DecodeSingleFile(bytes.NewReader(data), int64(len(data)))
}

// Download writes the archive at key to path.
func (c *Client) Download(ctx context.Context, key, path string) error {
	data, err := c.get(ctx, key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)
	defer cancel()

	output, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s/%s: %w", c.cfg.Bucket, key, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s/%s: %w", c.cfg.Bucket, key, err)
	}
	return data, nil
}

// --- Metadata Operations ---

// ObjectInfo holds S3 object metadata.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	// Version is the log version recorded at upload, zero if unknown.
	Version  uint32
	Variants int
}

// Stat returns info for the archive at key.
func (c *Client) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	output, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to head object %s/%s: %w", c.cfg.Bucket, key, err)
	}

	info := &ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(output.ContentLength),
		LastModified: aws.ToTime(output.LastModified),
		ETag:         aws.ToString(output.ETag),
	}
	if v, err := strconv.ParseUint(output.Metadata[MetaVersion], 10, 32); err == nil {
		info.Version = uint32(v)
	}
	if n, err := strconv.Atoi(output.Metadata[MetaVariants]); err == nil {
		info.Variants = n
	}
	return info, nil
}

// Delete removes an object.
func (c *Client) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	return err
}

// List lists all objects with the given prefix, following pagination.
func (c *Client) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var all []ObjectInfo
	var continuationToken *string

	for {
		input := &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		}

		output, err := c.api.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range output.Contents {
			all = append(all, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         aws.ToString(obj.ETag),
			})
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		continuationToken = output.NextContinuationToken
	}

	return all, nil
}

// Scheme returns "s3".
func (c *Client) Scheme() string {
	return "s3"
}
