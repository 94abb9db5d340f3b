//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meigma/pyramid"
	"github.com/meigma/pyramid/core/store"
	fixtures "github.com/meigma/pyramid/internal/testutil"
)

const (
	minioUser     = "pyramid"
	minioPassword = "pyramid-secret"
	minioRegion   = "us-east-1"
)

// --- MinIO Container Setup ---

var (
	minioOnce     sync.Once
	minioEndpoint string
	minioErr      error
)

// getMinIO returns the shared MinIO endpoint, starting the container if
// needed. The container is shared across all tests.
func getMinIO(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	minioOnce.Do(func() {
		minioEndpoint, minioErr = startMinIOContainer(context.Background())
	})

	if minioErr != nil {
		tb.Fatalf("start minio container: %v", minioErr)
	}
	return minioEndpoint
}

// startMinIOContainer starts a MinIO server and returns its http endpoint.
func startMinIOContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		Cmd:          []string{"server", "/data"},
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     minioUser,
			"MINIO_ROOT_PASSWORD": minioPassword,
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start minio container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve minio host: %w", err)
	}
	port, err := container.MappedPort(ctx, "9000/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve minio port: %w", err)
	}
	return fmt.Sprintf("http://%s:%s", host, port.Port()), nil
}

// --- Bucket Helpers ---

func adminClient(endpoint string) *s3.Client {
	return s3.New(s3.Options{
		Region:       minioRegion,
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider(minioUser, minioPassword, ""),
	})
}

// newBucket creates a bucket named after the test.
func newBucket(tb testing.TB, endpoint, name string) {
	tb.Helper()
	_, err := adminClient(endpoint).CreateBucket(context.Background(), &s3.CreateBucketInput{
		Bucket: aws.String(name),
	})
	require.NoError(tb, err, "CreateBucket(%s)", name)
}

// makePublic allows anonymous reads of every object in bucket.
func makePublic(tb testing.TB, endpoint, bucket string) {
	tb.Helper()
	policy := fmt.Sprintf(`{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Principal": {"AWS": ["*"]},
    "Action": ["s3:GetObject"],
    "Resource": ["arn:aws:s3:::%s/*"]
  }]
}`, bucket)
	_, err := adminClient(endpoint).PutBucketPolicy(context.Background(), &s3.PutBucketPolicyInput{
		Bucket: aws.String(bucket),
		Policy: aws.String(policy),
	})
	require.NoError(tb, err, "PutBucketPolicy(%s)", bucket)
}

// uploadPyramid writes p under prefix in bucket.
func uploadPyramid(tb testing.TB, endpoint, bucket, prefix string, p fixtures.Pyramid) {
	tb.Helper()
	mem := store.NewMemoryStore(bucket)
	fixtures.WritePyramid(tb, mem, "", p)

	client := adminClient(endpoint)
	ctx := context.Background()
	for _, key := range mem.Keys() {
		data, err := mem.Get(ctx, key)
		require.NoError(tb, err)
		_, err = client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(store.Join(prefix, key)),
			Body:   bytes.NewReader(data),
		})
		require.NoError(tb, err, "PutObject(%s)", key)
	}
}

// emptyBucket deletes every object in bucket.
func emptyBucket(tb testing.TB, endpoint, bucket string) {
	tb.Helper()
	client := adminClient(endpoint)
	ctx := context.Background()
	pages := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		require.NoError(tb, err)
		for _, obj := range page.Contents {
			_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key})
			require.NoError(tb, err)
		}
	}
}

// s3Config returns the loader S3 settings for the test server.
func s3Config(endpoint string, auth store.AuthMode) store.S3Config {
	cfg := store.S3Config{
		Endpoint:  endpoint,
		Region:    minioRegion,
		PathStyle: true,
		Auth:      auth,
	}
	if auth == store.AuthCredentialChain {
		cfg.AccessKeyID = minioUser
		cfg.SecretAccessKey = minioPassword
	}
	return cfg
}

// blockValues returns the block's elements as float64.
func blockValues(tb testing.TB, b *pyramid.Block) []float64 {
	tb.Helper()
	require.NotNil(tb, b)
	return fixtures.ToFloat64(b.Data)
}

// assertLevels checks every cell of every level of setup 0 against p.
func assertLevels(tb testing.TB, l *pyramid.Loader, p fixtures.Pyramid) {
	tb.Helper()
	ctx := context.Background()
	s, err := l.Setup(ctx, 0)
	require.NoError(tb, err)
	require.Equal(tb, p.Levels, s.NumMipmapLevels())

	for level := range p.Levels {
		img, err := s.Image(0, level)
		require.NoError(tb, err)
		g := img.GridDims()
		for z := range g[2] {
			for y := range g[1] {
				for x := range g[0] {
					cell := [3]int64{x, y, z}
					b, err := img.Cell(ctx, cell)
					require.NoError(tb, err, "level %d cell %v", level, cell)
					require.Equal(tb, pyramid.OriginStore, b.Origin, "level %d cell %v", level, cell)
					require.Equal(tb, fixtures.ExpectedCell(p, level, 0, 0, cell), blockValues(tb, b),
						"level %d cell %v", level, cell)
				}
			}
		}
	}
}
