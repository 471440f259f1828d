package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/multierr"
)

// S3Config configures the object-storage backend.
type S3Config struct {
	Bucket           string
	Region           string
	Endpoint         string
	AccessKey        string
	SecretKey        string
	UsePathStyle     bool
	Prefix           string
	QuarantinePrefix string
	PublicPrefix     string
}

// s3API is the subset of the S3 client used by S3Store.
type s3API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store keeps uploads in a bucket. Quarantine is a server-side copy to the
// quarantine prefix followed by a delete of the original key.
type S3Store struct {
	client s3API
	cfg    S3Config
}

// NewS3Store builds an S3 client from cfg. Static credentials are used when
// both keys are set, otherwise the default AWS credential chain applies.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("media: s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("media: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3Store(client, cfg), nil
}

func newS3Store(client s3API, cfg S3Config) *S3Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "uploads/"
	}
	if cfg.QuarantinePrefix == "" {
		cfg.QuarantinePrefix = "deleted/"
	}
	cfg.Prefix = withSlash(cfg.Prefix)
	cfg.QuarantinePrefix = withSlash(cfg.QuarantinePrefix)
	return &S3Store{client: client, cfg: cfg}
}

// Save uploads r under the upload prefix.
func (s *S3Store) Save(ctx context.Context, name string, r io.Reader, size int64, contentType string) (Object, error) {
	if err := validateName(name); err != nil {
		return Object{}, err
	}

	in := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Prefix + name),
		Body:   r,
	}
	if size > 0 {
		in.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return Object{}, fmt.Errorf("media: put %s: %w", name, err)
	}

	mt, _ := Classify(name)
	return Object{Name: name, URL: publicURL(s.cfg.PublicPrefix, name), Type: mt}, nil
}

// Quarantine implements Store.
func (s *S3Store) Quarantine(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	srcKey := s.cfg.Prefix + name
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.cfg.Bucket),
		CopySource: aws.String(copySource(s.cfg.Bucket, srcKey)),
		Key:        aws.String(s.cfg.QuarantinePrefix + name),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("media: copy %s to quarantine: %w", name, err)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(srcKey),
	}); err != nil {
		return fmt.Errorf("media: delete %s after quarantine: %w", name, err)
	}
	return nil
}

// PurgeQuarantine deletes quarantined objects whose LastModified is before cutoff.
func (s *S3Store) PurgeQuarantine(ctx context.Context, cutoff time.Time) (int, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.QuarantinePrefix),
	})

	removed := 0
	var errs []error
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return removed, fmt.Errorf("media: list quarantine: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.cfg.Bucket),
				Key:    obj.Key,
			}); err != nil {
				errs = append(errs, fmt.Errorf("media: purge %s: %w", aws.ToString(obj.Key), err))
				continue
			}
			removed++
		}
	}
	return removed, multierr.Combine(errs...)
}

// Ping issues a HeadBucket against the configured bucket.
func (s *S3Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)}); err != nil {
		return fmt.Errorf("media: head bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

// NameFromURL implements Store.
func (s *S3Store) NameFromURL(u string) (string, bool) {
	return nameFromURL(s.cfg.PublicPrefix, u)
}

func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return bucket + "/" + strings.Join(parts, "/")
}

func withSlash(prefix string) string {
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}
