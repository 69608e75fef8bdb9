package filestorage

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3RecordSink mirrors already-closed files to S3-compatible storage as a
// best-effort archival copy. It does not implement the live pwrite/fsync
// path — S3 has no equivalent of positioned writes to an open object — so
// OpenStream always fails here; FileLifecycle only calls ArchiveFile, after
// a file has been fully written and closed on local disk.
type S3RecordSink struct {
	client *s3.Client
	bucket string
}

func NewS3RecordSink(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string) (*S3RecordSink, error) {
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...any) (aws.Endpoint, error) {
		if endpoint != "" {
			return aws.Endpoint{
				PartitionID:   "aws",
				URL:           endpoint,
				SigningRegion: region,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithEndpointResolverWithOptions(customResolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.UsePathStyle = true
		}
	})

	return &S3RecordSink{client: client, bucket: bucket}, nil
}

func (s *S3RecordSink) OpenStream(ctx context.Context, name string, flags int) (RecordFile, error) {
	return nil, fmt.Errorf("filestorage: s3 sink does not support positioned writes; use ArchiveFile after close")
}

// ArchiveFile uploads the already-closed local file at localPath under key
// name.
func (s *S3RecordSink) ArchiveFile(ctx context.Context, localPath, name string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("archive open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("archive put object to s3: %w", err)
	}
	return nil
}

func (s *S3RecordSink) Type() string { return "s3" }
