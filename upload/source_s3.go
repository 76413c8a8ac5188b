package upload

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/goliatone/go-publisher/core"
)

// S3Config options for the S3 media source.
type S3Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool
}

// S3API is the subset of the S3 client the source needs.
type S3API interface {
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads media ranges from one object using HTTP Range requests,
// so a multi-gigabyte video never has to land on local disk.
type S3Source struct {
	client S3API
	bucket string
	key    string
}

func NewS3Source(config S3Config, objectKey string) (*S3Source, error) {
	if strings.TrimSpace(config.Bucket) == "" {
		return nil, fmt.Errorf("upload: s3 bucket is required")
	}
	if strings.TrimSpace(objectKey) == "" {
		return nil, fmt.Errorf("upload: s3 object key is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	var awsCfg aws.Config
	var err error
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				config.AccessKeyID,
				config.SecretAccessKey,
				"",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("upload: load aws config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	return NewS3SourceWithClient(s3.NewFromConfig(awsCfg, s3Options...), config.Bucket, objectKey)
}

func NewS3SourceWithClient(client S3API, bucket, objectKey string) (*S3Source, error) {
	if client == nil {
		return nil, fmt.Errorf("upload: s3 client is required")
	}
	bucket = strings.TrimSpace(bucket)
	objectKey = strings.TrimSpace(objectKey)
	if bucket == "" || objectKey == "" {
		return nil, fmt.Errorf("upload: s3 bucket and object key are required")
	}
	return &S3Source{client: client, bucket: bucket, key: objectKey}, nil
}

func (s *S3Source) Size(ctx context.Context) (int64, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("upload: s3 source is not configured")
	}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return 0, fmt.Errorf("upload: head s3://%s/%s: %w", s.bucket, s.key, err)
	}
	if head.ContentLength == nil {
		return 0, fmt.Errorf("upload: s3://%s/%s has no content length", s.bucket, s.key)
	}
	return *head.ContentLength, nil
}

func (s *S3Source) ReadRange(ctx context.Context, start, end int64) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("upload: s3 source is not configured")
	}
	if err := validateRange(start, end); err != nil {
		return nil, err
	}

	// HTTP Range headers are inclusive on both ends.
	rangeHeader := fmt.Sprintf("bytes=%d-%d", start, end-1)
	object, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return nil, fmt.Errorf("upload: get range %s of s3://%s/%s: %w", rangeHeader, s.bucket, s.key, err)
	}
	defer object.Body.Close()

	data, err := io.ReadAll(io.LimitReader(object.Body, end-start+1))
	if err != nil {
		return nil, fmt.Errorf("upload: read range %s of s3://%s/%s: %w", rangeHeader, s.bucket, s.key, err)
	}
	if int64(len(data)) != end-start {
		return nil, fmt.Errorf(
			"upload: short range read of s3://%s/%s: wanted %d bytes, got %d",
			s.bucket, s.key, end-start, len(data),
		)
	}
	return data, nil
}

var _ core.ByteRangeSource = (*S3Source)(nil)
