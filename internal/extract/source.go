package extract

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"salesetl/internal/common"
	"salesetl/pkg/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// FileSource opens entity files by name. Missing files and a missing root
// are reported with an error wrapping fs.ErrNotExist.
type FileSource interface {
	// Name is the provenance tag for sales read from this source.
	Name() string
	// Location describes the root for log messages.
	Location() string
	// Available reports whether the root (directory, bucket prefix) exists.
	Available(ctx context.Context) (bool, error)
	Open(ctx context.Context, file string) (io.ReadCloser, error)
}

// DirSource reads entity files from a local directory.
type DirSource struct {
	dir string
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: filepath.Clean(dir)}
}

func (s *DirSource) Name() string     { return "files" }
func (s *DirSource) Location() string { return s.dir }

func (s *DirSource) Available(context.Context) (bool, error) {
	info, err := os.Stat(s.dir)
	if stderrors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (s *DirSource) Open(_ context.Context, file string) (io.ReadCloser, error) {
	path, err := common.JoinWithin(s.dir, file)
	if err != nil {
		return nil, err
	}
	return os.Open(path) // #nosec G304 - confined to the source directory
}

// S3API is the subset of the S3 client the source needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Source reads entity files from <bucket>/<prefix>/.
type S3Source struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Source(client S3API, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// NewS3Client builds a client from the default AWS chain, overridden by
// static credentials and a custom endpoint when configured.
func NewS3Client(ctx context.Context, cfg models.S3SourceConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (s *S3Source) Name() string { return "s3" }

func (s *S3Source) Location() string {
	return "s3://" + path.Join(s.bucket, s.prefix)
}

func (s *S3Source) key(file string) string {
	if s.prefix == "" {
		return file
	}
	return s.prefix + "/" + file
}

func (s *S3Source) Available(ctx context.Context) (bool, error) {
	prefix := s.prefix
	if prefix != "" {
		prefix += "/"
	}
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		var noBucket *types.NoSuchBucket
		if stderrors.As(err, &noBucket) {
			return false, nil
		}
		return false, err
	}
	return len(out.Contents) > 0, nil
}

func (s *S3Source) Open(ctx context.Context, file string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(file)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if stderrors.As(err, &noKey) {
			return nil, fmt.Errorf("%s: %w", s.key(file), fs.ErrNotExist)
		}
		return nil, err
	}
	return out.Body, nil
}
