package export

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"snapshotter-bench/internal/config"
	"snapshotter-bench/internal/logging"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
)

// Archive uploads exported files to an S3-compatible bucket.
type Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewArchive builds an S3 client for cfg. A custom endpoint (MinIO, R2)
// is addressed path-style.
func NewArchive(ctx context.Context, cfg config.ArchiveConfig) (*Archive, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint, HostnameImmutable: true}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.Endpoint != ""
	})

	return &Archive{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Key is the object key a local file is stored under.
func (a *Archive) Key(file string) string {
	return path.Join(a.prefix, filepath.Base(file))
}

// Upload stores file in the bucket and returns its s3:// location.
func (a *Archive) Upload(ctx context.Context, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := a.Key(file)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(fi.Size()),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", file, err)
	}

	location := fmt.Sprintf("s3://%s/%s", a.bucket, key)
	logging.GetLogger().WithFields(logrus.Fields{
		"location": location,
		"size":     units.HumanSize(float64(fi.Size())),
	}).Info("Uploaded export")
	return location, nil
}
