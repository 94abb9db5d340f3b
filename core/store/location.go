package store

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/url"
	"strings"
)

// Location is a parsed dataset location.
type Location struct {
	// Scheme is "file", "s3", "http" or "https".
	Scheme string
	// Bucket is set for s3 locations.
	Bucket string
	// Path is the directory (file), key prefix (s3) or full URL (http).
	Path string
}

// ParseLocation parses "file:///dir", a bare path, "s3://bucket/prefix" or an
// http(s) URL.
func ParseLocation(location string) (Location, error) {
	if location == "" {
		return Location{}, fmt.Errorf("%w: empty location", ErrInvalidLocation)
	}
	if !strings.Contains(location, "://") {
		return Location{Scheme: "file", Path: location}, nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %w", ErrInvalidLocation, err)
	}
	switch u.Scheme {
	case "file":
		p := u.Path
		if u.Host != "" && u.Host != "localhost" {
			p = u.Host + p
		}
		if p == "" {
			return Location{}, fmt.Errorf("%w: %s has no path", ErrInvalidLocation, location)
		}
		return Location{Scheme: "file", Path: p}, nil
	case "s3":
		if u.Host == "" {
			return Location{}, fmt.Errorf("%w: %s has no bucket", ErrInvalidLocation, location)
		}
		return Location{Scheme: "s3", Bucket: u.Host, Path: strings.Trim(u.Path, "/")}, nil
	case "http", "https":
		return Location{Scheme: u.Scheme, Path: location}, nil
	default:
		return Location{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocation, u.Scheme)
	}
}

// OpenOptions carries transport settings Open applies by scheme.
type OpenOptions struct {
	// S3 is used for s3 locations. Bucket and Prefix come from the location;
	// a non-empty S3.Prefix is prepended to the location path.
	S3 S3Config

	HTTPClient  *nethttp.Client
	HTTPHeaders nethttp.Header
}

// Open returns the Store for location.
func Open(ctx context.Context, location string, opts OpenOptions) (Store, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	switch loc.Scheme {
	case "file":
		return NewFileStore(loc.Path)
	case "s3":
		cfg := opts.S3
		cfg.Bucket = loc.Bucket
		cfg.Prefix = Join(cfg.Prefix, loc.Path)
		if cfg.HTTPClient == nil {
			cfg.HTTPClient = opts.HTTPClient
		}
		return NewS3Store(ctx, cfg)
	default:
		return NewHTTPStore(loc.Path, WithClient(opts.HTTPClient), WithHeaders(opts.HTTPHeaders))
	}
}
