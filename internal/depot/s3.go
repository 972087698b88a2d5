package depot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aweris/gitbig/internal/config"
	"github.com/aweris/gitbig/internal/errors"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"
)

const (
	gcsEndpoint   = "https://storage.googleapis.com"
	defaultRegion = "us-east-1"
)

// S3 is a Backend for S3 and S3 compatible object stores.
type S3 struct {
	bucket     string
	prefix     string
	endpoint   string
	s3         *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	l          *zap.Logger
}

// NewS3 builds the client for u:
//
//	s3://bucket[/prefix]            AWS, region from the environment
//	gs://bucket[/prefix]            the GCS interoperability endpoint
//	s3+http://host/bucket[/prefix]  a custom endpoint with path style addressing
func NewS3(u *url.URL, cfg config.Depot, l *zap.Logger) (*S3, error) {
	if l == nil {
		l = zap.NewNop()
	}
	awsConfig := aws.NewConfig()
	if region := firstEnv("AWS_REGION", "AWS_DEFAULT_REGION"); region != "" {
		awsConfig = awsConfig.WithRegion(region)
	} else {
		awsConfig = awsConfig.WithRegion(defaultRegion)
	}
	if cfg.Key != "" {
		awsConfig = awsConfig.WithCredentials(credentials.NewStaticCredentials(cfg.Key, cfg.Secret, ""))
	}

	fs := &S3{bucket: u.Host, prefix: strings.Trim(u.Path, "/"), l: l}
	switch u.Scheme {
	case "gs":
		fs.endpoint = gcsEndpoint
	case "s3+http", "s3+https":
		fs.endpoint = strings.TrimPrefix(u.Scheme, "s3+") + "://" + u.Host
		fs.bucket, fs.prefix, _ = strings.Cut(strings.Trim(u.Path, "/"), "/")
		awsConfig = awsConfig.WithS3ForcePathStyle(true)
	}
	if fs.endpoint != "" {
		awsConfig = awsConfig.WithEndpoint(fs.endpoint)
	}
	if fs.bucket == "" {
		return nil, errors.ErrInvalidResource.Wrap(fmt.Errorf("no bucket in depot url %q", u.String()))
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 session: %w", err)
	}
	fs.s3 = s3.New(sess)
	fs.uploader = s3manager.NewUploaderWithClient(fs.s3)
	fs.downloader = s3manager.NewDownloaderWithClient(fs.s3)
	return fs, nil
}

// key places p under the url prefix.
func (s *S3) key(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

func (s *S3) HasObject(ctx context.Context, key string) (int64, bool, error) {
	out, err := s.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		err = toSentinelErrors(err)
		if errors.Is(err, errors.ErrNotExists) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get head request: %w", err)
	}
	return aws.Int64Value(out.ContentLength), true, nil
}

func (s *S3) GetFile(ctx context.Context, key, dest string) (err error) {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.ErrIO.Wrap(err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.ErrIO.Wrap(cerr)
		}
	}()

	n, err := s.downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return toSentinelErrors(err)
	}
	s.l.Debug("downloaded", zap.String("key", key), zap.Int64("bytes", n))
	return nil
}

func (s *S3) PutFile(ctx context.Context, key, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return errors.ErrIO.Wrap(err)
	}
	defer f.Close()

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
		Body:   f,
	})
	return toSentinelErrors(err)
}

func (s *S3) GetBlob(ctx context.Context, key string) (*Blob, bool, error) {
	out, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		err = toSentinelErrors(err)
		if errors.Is(err, errors.ErrNotExists) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	meta := make(map[string]string, len(out.Metadata))
	for k, v := range aws.StringValueMap(out.Metadata) {
		meta[strings.ToLower(k)] = v
	}
	return &Blob{Data: data, Metadata: meta, LastModified: aws.TimeValue(out.LastModified)}, true, nil
}

func (s *S3) PutBlob(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.key(key)),
		Body:     bytes.NewReader(data),
		Metadata: aws.StringMap(metadata),
	})
	return toSentinelErrors(err)
}

func (s *S3) DeleteBlob(ctx context.Context, key string) error {
	_, err := s.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	err = toSentinelErrors(err)
	if errors.Is(err, errors.ErrNotExists) {
		return nil
	}
	return err
}

func (s *S3) String() string {
	name := s.bucket
	if s.prefix != "" {
		name += "/" + s.prefix
	}
	if s.endpoint != "" {
		return "s3@" + s.endpoint + "/" + name
	}
	return "s3@" + name
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
