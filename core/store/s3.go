package store

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/meigma/pyramid/internal/sizing"
)

// DefaultS3Region is used for request signing when neither the config nor
// the environment names a region.
const DefaultS3Region = "us-east-1"

// AuthMode selects how S3 requests are authenticated.
type AuthMode int

const (
	// AuthAnonymous sends unsigned requests, for public buckets.
	AuthAnonymous AuthMode = iota

	// AuthCredentialChain resolves credentials from static keys when given,
	// otherwise from the default AWS chain (environment, shared config,
	// instance roles). Construction fails if no credentials resolve.
	AuthCredentialChain
)

// String returns the mode name used in configuration files.
func (m AuthMode) String() string {
	switch m {
	case AuthAnonymous:
		return "anonymous"
	case AuthCredentialChain:
		return "chain"
	default:
		return fmt.Sprintf("AuthMode(%d)", int(m))
	}
}

// ParseAuthMode parses "anonymous" or "chain".
func ParseAuthMode(s string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "anonymous", "anon":
		return AuthAnonymous, nil
	case "chain", "credentials", "default":
		return AuthCredentialChain, nil
	default:
		return 0, fmt.Errorf("store: unknown S3 auth mode %q", s)
	}
}

// S3Config describes an S3-compatible bucket.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every key.
	Prefix string
	// Endpoint overrides the service endpoint, e.g. "http://localhost:9000".
	Endpoint string
	// Region is the signing region.
	Region string
	// PathStyle forces path-style addressing, required by most
	// S3-compatible servers.
	PathStyle bool
	Auth      AuthMode

	// AccessKeyID and SecretAccessKey, when both set, replace the default
	// chain under AuthCredentialChain.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	HTTPClient     *nethttp.Client
	MaxObjectBytes uint64
}

// S3Store reads objects from an S3-compatible bucket.
type S3Store struct {
	client   *s3.Client
	bucket   string
	prefix   string
	maxBytes uint64
}

var _ Store = (*S3Store)(nil)

// NewS3Store builds an S3 client for cfg. Under AuthCredentialChain the
// credentials are retrieved once here, so a misconfigured chain is reported
// immediately instead of on the first chunk read.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: missing S3 bucket", ErrInvalidLocation)
	}

	var loadOpts []func(*awscfg.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(cfg.Region))
	}
	switch cfg.Auth {
	case AuthAnonymous:
		// credentials are set on the client below
	case AuthCredentialChain:
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
			))
		}
	default:
		return nil, fmt.Errorf("store: unknown S3 auth mode %d", int(cfg.Auth))
	}

	awsConfig, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("store: load AWS config: %w", err)
	}
	if awsConfig.Region == "" {
		awsConfig.Region = DefaultS3Region
	}
	if cfg.Auth == AuthCredentialChain {
		if awsConfig.Credentials == nil {
			return nil, fmt.Errorf("%w: no credential provider", ErrCredentials)
		}
		if _, err := awsConfig.Credentials.Retrieve(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCredentials, err)
		}
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
		if cfg.Auth == AuthAnonymous {
			o.Credentials = aws.AnonymousCredentials{}
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})

	maxBytes := cfg.MaxObjectBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxObjectBytes
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Store{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   prefix,
		maxBytes: maxBytes,
	}, nil
}

// Name implements Store.
func (s *S3Store) Name() string {
	return "s3://" + s.bucket + "/" + s.prefix
}

// Get implements Store.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, key)
	}
	objectKey := s.prefix + cleaned
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, transient(s, key, err)
	}
	defer out.Body.Close()

	errTooLarge := errors.New("object too large")
	data, err := sizing.ReadAllWithLimit(out.Body, s.maxBytes, errTooLarge)
	if err != nil {
		return nil, transient(s, key, err)
	}
	return data, nil
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == nethttp.StatusNotFound
}
