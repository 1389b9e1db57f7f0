package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	myhttp "github.com/mazrean/blobdir/internal/pkg/http"
	"github.com/mazrean/blobdir/internal/metrics"
	"github.com/mazrean/blobdir/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Ensure S3 implements Store
var _ Store = &S3{}

var s3LatencyGauge = metrics.NewGauge("s3_latency")

// S3 implements the Store interface using MinIO Go Client SDK.
type S3 struct {
	logger log.Logger
	client *minio.Client
	bucket string
}

// newS3Client initializes a MinIO client for an S3 compatible endpoint.
// Static keys are used when both are given; otherwise the shared AWS credentials file is read.
func newS3Client(creds S3Credentials) (*minio.Client, error) {
	var cred *credentials.Credentials
	if creds.AccessKey != "" && creds.SecretAccessKey != "" {
		cred = credentials.NewStaticV4(creds.AccessKey, creds.SecretAccessKey, "")
	} else {
		cred = credentials.NewFileAWSCredentials("", "")
	}

	bucketLookupType := minio.BucketLookupDNS
	if creds.UsePathStyle {
		bucketLookupType = minio.BucketLookupPath
	}
	client, err := minio.New(creds.Endpoint, &minio.Options{
		Region:       creds.Region,
		Creds:        cred,
		Secure:       creds.UseSSL,
		BucketLookup: bucketLookupType,
		Transport:    myhttp.NewTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("initialize S3 client: %w", err)
	}

	return client, nil
}

// NewS3 returns a store backed by bucket. The bucket is not created until CreateContainer is called.
func NewS3(logger log.Logger, client *minio.Client, bucket string) *S3 {
	logger.Debugf("S3 store bound to bucket %q", bucket)

	return &S3{
		logger: logger,
		client: client,
		bucket: bucket,
	}
}

func (s *S3) CreateContainer(ctx context.Context) error {
	var (
		exists bool
		err    error
	)
	s3LatencyGauge.Stopwatch(func() {
		exists, err = s.client.BucketExists(ctx, s.bucket)
	}, "bucket_exists")
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}

	s3LatencyGauge.Stopwatch(func() {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	}, "make_bucket")
	if err != nil {
		// another process may have won the race
		code := minio.ToErrorResponse(err).Code
		if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("make bucket: %w", err)
	}

	s.logger.Infof("created bucket %q", s.bucket)

	return nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		names = append(names, obj.Key)
	}

	return names, nil
}

func (s *S3) Stat(ctx context.Context, name string) (*ObjectInfo, error) {
	var (
		info minio.ObjectInfo
		err  error
	)
	s3LatencyGauge.Stopwatch(func() {
		info, err = s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	}, "stat_object")
	if err != nil {
		return nil, fmt.Errorf("stat object: %w", s.translateError(err))
	}

	metadata := make(map[string]string, len(info.UserMetadata))
	for k, v := range info.UserMetadata {
		metadata[k] = v
	}

	return &ObjectInfo{
		Name:         name,
		Size:         info.Size,
		LastModified: info.LastModified,
		ETag:         info.ETag,
		Metadata:     metadata,
	}, nil
}

// SetMetadata copies the object onto itself with replaced metadata, the only way S3 allows metadata updates.
func (s *S3) SetMetadata(ctx context.Context, name string, metadata map[string]string) error {
	var err error
	s3LatencyGauge.Stopwatch(func() {
		_, err = s.client.CopyObject(ctx, minio.CopyDestOptions{
			Bucket:          s.bucket,
			Object:          name,
			UserMetadata:    metadata,
			ReplaceMetadata: true,
		}, minio.CopySrcOptions{
			Bucket: s.bucket,
			Object: name,
		})
	}, "copy_object")
	if err != nil {
		return fmt.Errorf("replace metadata: %w", s.translateError(err))
	}

	return nil
}

func (s *S3) Get(ctx context.Context, name string, w io.Writer) error {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get object: %w", s.translateError(err))
	}
	defer obj.Close()

	s3LatencyGauge.Stopwatch(func() {
		_, err = io.Copy(w, obj)
	}, "get_object")
	if err != nil {
		return fmt.Errorf("copy object: %w", s.translateError(err))
	}

	return nil
}

func (s *S3) Put(ctx context.Context, name string, r io.ReadSeeker, size int64, metadata map[string]string) error {
	opts := minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: metadata,
	}

	var err error
	s3LatencyGauge.Stopwatch(func() {
		_, err = s.client.PutObject(ctx, s.bucket, name, r, size, opts)
	}, "put_object")
	if err != nil {
		return fmt.Errorf("upload object: %w", err)
	}

	return nil
}

func (s *S3) PutIfAbsent(ctx context.Context, name string, r io.ReadSeeker, size int64, metadata map[string]string) error {
	opts := minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: metadata,
	}
	// If-None-Match: * makes the write fail with 412 when the key exists
	opts.SetMatchETagExcept("*")

	var err error
	s3LatencyGauge.Stopwatch(func() {
		_, err = s.client.PutObject(ctx, s.bucket, name, r, size, opts)
	}, "put_object_if_absent")
	if err != nil {
		return fmt.Errorf("conditional upload object: %w", s.translateError(err))
	}

	return nil
}

func (s *S3) Delete(ctx context.Context, name string) error {
	var err error
	s3LatencyGauge.Stopwatch(func() {
		err = s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{})
	}, "remove_object")
	if err != nil {
		err = s.translateError(err)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("remove object: %w", err)
	}

	return nil
}

// DeleteIfMatch compares the ETag with a fresh stat before removing the object.
// S3 has no conditional delete, so a write landing between the stat and the
// removal is not detected.
func (s *S3) DeleteIfMatch(ctx context.Context, name string, etag string) error {
	info, err := s.Stat(ctx, name)
	if err != nil {
		return err
	}
	if info.ETag != etag {
		return fmt.Errorf("remove object %q: %w", name, ErrModified)
	}

	s3LatencyGauge.Stopwatch(func() {
		err = s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{})
	}, "remove_object")
	if err != nil {
		return fmt.Errorf("remove object: %w", s.translateError(err))
	}

	return nil
}

// translateError maps S3 error codes onto the package sentinels, keeping the original error in the chain.
func (s *S3) translateError(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey", resp.StatusCode == http.StatusNotFound:
		return errors.Join(ErrNotFound, err)
	case resp.Code == "PreconditionFailed", resp.StatusCode == http.StatusPreconditionFailed:
		return errors.Join(ErrExists, err)
	}

	return err
}
