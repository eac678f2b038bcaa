package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/NVIDIA/mediaorch/cmn"
	"github.com/NVIDIA/mediaorch/cmn/metrics"
	"github.com/NVIDIA/mediaorch/cmn/nlog"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Store is the primary blob backend: an S3 (or S3-compatible, via
// endpoint override) bucket accessed through aws-sdk-go-v2, the teacher's
// own choice of SDK for exactly this role.
type S3Store struct {
	bucket   string
	client   *s3.Client
	uploader *manager.Uploader
}

func NewS3Store(ctx context.Context, bucket, region, endpoint string) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, cmn.Wrap(err, "load aws config")
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{
		bucket:   bucket,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	start := time.Now()
	defer func() { metrics.BlobPutDuration.WithLabelValues("s3").Observe(time.Since(start).Seconds()) }()
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		// Deliberately no CacheControl/ContentDisposition/Expires: spec §4.1
		// forbids setting protocol-reserved attributes on PUT.
	})
	if err != nil {
		return "", classifyS3Err(err, "put")
	}
	if out.Location != "" {
		return out.Location, nil
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Err(err, "get")
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return false, nil
	}
	return false, classifyS3Err(err, "head")
}

// DeletePrefix lists and deletes in batches of at most batchSize (spec
// §4.1: "bulk delete via batched calls (≤1000 keys per batch)"), repeating
// until the listing is exhausted. It's idempotent: a key that disappears
// between List and Delete simply isn't counted twice.
func (s *S3Store) DeletePrefix(ctx context.Context, prefix string, batchSize int) (int, error) {
	if batchSize <= 0 || batchSize > 1000 {
		batchSize = 1000
	}
	var (
		removed    int
		continueAt *string
	)
	for {
		listOut, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continueAt,
		})
		if err != nil {
			return removed, classifyS3Err(err, "list")
		}
		for start := 0; start < len(listOut.Contents); start += batchSize {
			end := start + batchSize
			if end > len(listOut.Contents) {
				end = len(listOut.Contents)
			}
			batch := listOut.Contents[start:end]
			if len(batch) == 0 {
				continue
			}
			ids := make([]types.ObjectIdentifier, len(batch))
			for i, obj := range batch {
				ids[i] = types.ObjectIdentifier{Key: obj.Key}
			}
			delOut, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(s.bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return removed, classifyS3Err(err, "delete_objects")
			}
			removed += len(batch) - len(delOut.Errors)
			for _, e := range delOut.Errors {
				nlog.Warningf("blob delete failed for %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
			}
		}
		if listOut.IsTruncated == nil || !*listOut.IsTruncated {
			break
		}
		continueAt = listOut.NextContinuationToken
	}
	return removed, nil
}

func classifyS3Err(err error, op string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied":
			return cmn.Wrap(err, "s3 "+op+": permission denied")
		case "NoSuchKey", "NotFound":
			return cmn.NewErrNotFound("s3 object not found")
		}
	}
	return cmn.NewErrBlobUnreachable("s3 "+op+" failed", err)
}

var _ Store = (*S3Store)(nil)
