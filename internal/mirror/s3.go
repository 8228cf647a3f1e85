package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"permafrost/internal/config"
	"permafrost/internal/pf"
)

// s3Client is the subset of the S3 API the mirror uses.
type s3Client interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Mirror stores catalog snapshots in an S3 bucket with the same layout
// as FileSystemMirror, below an optional key prefix.
type S3Mirror struct {
	name     string
	bucket   string
	prefix   string
	client   s3Client
	uploader *manager.Uploader
}

// NewS3Mirror creates a mirror writing to bucket through client.
func NewS3Mirror(name, bucket, prefix string, client s3Client) *S3Mirror {
	return &S3Mirror{
		name:     name,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

// NewS3MirrorFromConfig loads AWS configuration and creates the mirror.
// Static credentials are read from the environment variables named in cfg;
// otherwise the default credential chain applies.
func NewS3MirrorFromConfig(cfg config.MirrorConfig) (*S3Mirror, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyEnv != "" {
		key, secret := os.Getenv(cfg.S3AccessKeyEnv), os.Getenv(cfg.S3SecretKeyEnv)
		if key == "" || secret == "" {
			return nil, fmt.Errorf("s3 mirror %q: credentials not set in %s and %s", cfg.Name, cfg.S3AccessKeyEnv, cfg.S3SecretKeyEnv)
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Mirror(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client), nil
}

func (m *S3Mirror) Name() string { return m.name }

func (m *S3Mirror) key(hostID, ext string) string {
	return path.Join(m.prefix, "catalog", hostID+ext)
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// PutSnapshot uploads the snapshot, then its version. A snapshot of the
// wrong size is uploaded but its version is not, so it is never offered
// for restore as newer than the previous one.
func (m *S3Mirror) PutSnapshot(hostID string, r io.Reader, size int64, version int64) error {
	ctx := context.Background()
	body := &countingReader{r: r}

	_, err := m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(hostID, ".db")),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("uploading snapshot to s3://%s: %w", m.bucket, err)
	}
	if body.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, body.n)
	}

	_, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(hostID, ".version")),
		Body:   strings.NewReader(strconv.FormatInt(version, 10)),
	})
	if err != nil {
		return fmt.Errorf("uploading snapshot version to s3://%s: %w", m.bucket, err)
	}
	return nil
}

// get opens an object. A missing key returns a nil body and no error.
func (m *S3Mirror) get(key string) (io.ReadCloser, error) {
	out, err := m.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting s3://%s/%s: %w", m.bucket, key, err)
	}
	return out.Body, nil
}

func (m *S3Mirror) GetSnapshot(hostID string, w io.Writer) error {
	body, err := m.get(m.key(hostID, ".db"))
	if err != nil {
		return err
	}
	if body == nil {
		return fmt.Errorf("%w for host %s", ErrNoSnapshot, hostID)
	}
	defer body.Close()

	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("downloading snapshot: %w", err)
	}
	return nil
}

func (m *S3Mirror) SnapshotVersion(hostID string) (int64, error) {
	body, err := m.get(m.key(hostID, ".version"))
	if err != nil || body == nil {
		return 0, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, 32))
	if err != nil {
		return 0, fmt.Errorf("reading snapshot version: %w", err)
	}
	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing snapshot version: %w", err)
	}
	return version, nil
}

// ValidateSetup checks that the bucket exists and is accessible.
func (m *S3Mirror) ValidateSetup() error {
	_, err := m.client.HeadBucket(context.Background(), &s3.HeadBucketInput{Bucket: aws.String(m.bucket)})
	if err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", m.bucket, err)
	}
	return nil
}

var _ pf.Mirror = (*S3Mirror)(nil)
