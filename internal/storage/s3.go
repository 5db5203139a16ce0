package storage

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/modelzoo/modelzoo/internal/config"
)

// S3Store is an ObjectStore backed by an S3-compatible service such as MinIO.
type S3Store struct {
	bucket   string
	timeout  time.Duration
	client   *s3.S3
	presign  *s3.S3
	uploader *s3manager.Uploader
	log      *log.Entry
}

// NewS3Store builds a client for the configured endpoint. Presigned URLs are issued for APIHost
// when it is set, so that browsers outside the cluster can reach them.
func NewS3Store(cfg config.ObjectStoreConfig) (*S3Store, error) {
	sess, err := newSession(cfg, cfg.Endpoint, cfg.TLS)
	if err != nil {
		return nil, errors.Wrap(err, "creating object store session")
	}
	presignSess := sess
	if cfg.APIHost != "" {
		u, err := url.Parse(cfg.APIHost)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing object store api host %s", cfg.APIHost)
		}
		if presignSess, err = newSession(cfg, u.Host, u.Scheme == "https"); err != nil {
			return nil, errors.Wrap(err, "creating object store presign session")
		}
	}

	return &S3Store{
		bucket:   cfg.Bucket,
		timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		client:   s3.New(sess),
		presign:  s3.New(presignSess),
		uploader: s3manager.NewUploader(sess),
		log:      log.WithField("component", "object-store"),
	}, nil
}

func newSession(cfg config.ObjectStoreConfig, endpoint string, tls bool) (*session.Session, error) {
	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(true),
		DisableSSL:       aws.Bool(!tls),
		HTTPClient:       cleanhttp.DefaultPooledClient(),
	}
	if endpoint != "" {
		awsCfg.Endpoint = aws.String(endpoint)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	return session.NewSession(awsCfg)
}

func (s *S3Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Bucket implements ObjectStore.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return errors.Wrapf(err, "checking bucket %s", s.bucket)
	}
	s.log.Infof("creating bucket %s", s.bucket)
	_, err = s.client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeBucketAlreadyOwnedByYou {
		return nil
	}
	return errors.Wrapf(err, "creating bucket %s", s.bucket)
}

// Put implements ObjectStore.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	input := &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		return errors.Wrapf(err, "uploading %s", key)
	}
	return nil
}

// Get implements ObjectStore.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", errors.Wrap(ErrObjectNotFound, key)
		}
		return nil, "", errors.Wrapf(err, "getting %s", key)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, "", errors.Wrapf(err, "reading %s", key)
	}
	return buf.Bytes(), aws.StringValue(out.ContentType), nil
}

// Copy implements ObjectStore.
func (s *S3Store) Copy(ctx context.Context, srcBucket, srcKey, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(key),
		CopySource: aws.String(copySource(srcBucket, srcKey)),
	})
	if err != nil {
		if isNotFound(err) {
			return errors.Wrapf(ErrObjectNotFound, "%s/%s", srcBucket, srcKey)
		}
		return errors.Wrapf(err, "copying %s/%s to %s", srcBucket, srcKey, key)
	}
	return nil
}

func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return url.PathEscape(bucket) + "/" + strings.Join(parts, "/")
}

// Delete implements ObjectStore.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return errors.Wrapf(err, "deleting %s", key)
}

// List implements ObjectStore.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx,
		&s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		},
		func(output *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range output.Contents {
				keys = append(keys, aws.StringValue(obj.Key))
			}
			return true
		},
	)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", prefix)
	}
	return keys, nil
}

// PresignGet implements ObjectStore.
func (s *S3Store) PresignGet(key string, ttl time.Duration) (string, error) {
	req, _ := s.presign.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	u, err := req.Presign(ttl)
	if err != nil {
		return "", errors.Wrapf(err, "presigning %s", key)
	}
	return u, nil
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	return false
}
