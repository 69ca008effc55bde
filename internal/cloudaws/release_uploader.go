package cloudaws

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	log "github.com/sirupsen/logrus"
)

type bucketAPI interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// ReleaseUploader copies release directories into an S3 bucket
type ReleaseUploader struct {
	bucket   string
	region   string
	client   bucketAPI
	uploader objectUploader
}

// NewReleaseUploader returns an initialized ReleaseUploader for bucket
func NewReleaseUploader(ctx context.Context, bucket, region string) (*ReleaseUploader, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	if err := checkS3Access(ctx, client); err != nil {
		return nil, err
	}

	return &ReleaseUploader{
		bucket:   bucket,
		region:   region,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

// EnsureBucket creates the release bucket if it does not exist yet
func (c *ReleaseUploader) EnsureBucket(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &c.bucket})
	if err == nil {
		return nil
	}
	var notFound *s3types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("unknown S3 error: %w", err)
	}

	bucketInput := &s3.CreateBucketInput{
		Bucket: &c.bucket,
	}
	// the location constraint must only be set outside of us-east-1
	if c.region != "us-east-1" {
		bucketInput.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(c.region),
		}
	}

	log.Infof("Creating S3 bucket %v", c.bucket)
	output, err := c.client.CreateBucket(ctx, bucketInput)
	if err != nil {
		return fmt.Errorf("failed to create bucket %v - note that this bucket name must be globally unique: output:%v err:%w", c.bucket, output, err)
	}
	return nil
}

// UploadDir uploads every file below dir to the bucket, keyed by prefix and the path relative to dir
func (c *ReleaseUploader) UploadDir(ctx context.Context, dir, prefix string) error {
	if err := c.EnsureBucket(ctx); err != nil {
		return err
	}

	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		return c.uploadFile(ctx, p, key)
	})
}

func (c *ReleaseUploader) uploadFile(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	contentType := mime.TypeByExtension(filepath.Ext(file))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	log.Infof("Uploading %v to s3://%v/%v", filepath.Base(file), c.bucket, key)
	_, err = c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(c.bucket),
		Key:                  aws.String(key),
		ACL:                  s3types.ObjectCannedACLPrivate,
		Body:                 f,
		ContentType:          aws.String(contentType),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %v: %w", key, err)
	}
	return nil
}

func checkS3Access(ctx context.Context, client bucketAPI) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	_, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return fmt.Errorf("unable to list S3 buckets - make sure you have valid AWS credentials: %w", err)
	}
	return nil
}
