package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 stores documents in an S3 (or S3-compatible) bucket.
type S3 struct {
	Client S3API
	Bucket string
	Prefix string
	// PublicBase replaces the virtual-hosted URL, e.g. a CDN or MinIO host.
	PublicBase string
	Region     string
}

// S3Options configures NewS3.
type S3Options struct {
	Bucket     string
	Prefix     string
	Region     string
	Endpoint   string // optional, S3-compatible servers
	PublicBase string
}

// NewS3 creates an S3 store from the default AWS credential chain.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{
		Client:     client,
		Bucket:     opts.Bucket,
		Prefix:     opts.Prefix,
		PublicBase: opts.PublicBase,
		Region:     opts.Region,
	}, nil
}

// Put uploads data and returns its URL.
func (s *S3) Put(ctx context.Context, name string, data []byte) (string, error) {
	if s.Bucket == "" {
		return "", fmt.Errorf("s3: bucket is empty")
	}
	key := objectName(s.Prefix, name)
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(ContentTypePDF),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	return s.url(key), nil
}

func (s *S3) url(key string) string {
	if s.PublicBase != "" {
		return strings.TrimRight(s.PublicBase, "/") + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.Bucket, s.Region, key)
}
