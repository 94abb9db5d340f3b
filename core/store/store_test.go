package store_test

import (
	"context"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/meigma/pyramid/core/store"
)

func TestFileStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "s0", "0"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "s0", "0", "1"), []byte("chunk"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := store.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ctx := context.Background()

	got, err := s.Get(ctx, "s0/0/1")
	if err != nil || string(got) != "chunk" {
		t.Fatalf("Get() = %q, %v", got, err)
	}
	if _, err := s.Get(ctx, "s0/0/2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "s0/0/1/x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get(under file) error = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "../etc/passwd"); !errors.Is(err, store.ErrInvalidKey) {
		t.Fatalf("Get(escape) error = %v, want ErrInvalidKey", err)
	}
	if _, err := s.Get(ctx, "s0"); !errors.Is(err, store.ErrTransient) {
		t.Fatalf("Get(directory) error = %v, want ErrTransient", err)
	}

	if _, err := store.NewFileStore(filepath.Join(dir, "s0", "0", "1")); !errors.Is(err, store.ErrInvalidLocation) {
		t.Fatalf("NewFileStore(file) error = %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemoryStore("test")
	s.Put("/a/b", []byte{1, 2})

	got, err := s.Get(ctx, "a/b")
	if err != nil || len(got) != 2 {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	got[0] = 9
	again, _ := s.Get(ctx, "a/b")
	if again[0] != 1 {
		t.Fatal("Get() must return a copy")
	}

	cause := errors.New("connection reset")
	s.FailWith("a/b", cause)
	_, err = s.Get(ctx, "a/b")
	var te *store.TransientError
	if !errors.As(err, &te) || !errors.Is(err, store.ErrTransient) || !errors.Is(err, cause) {
		t.Fatalf("Get(failing) error = %v", err)
	}
	if te.Key != "a/b" || te.Store != "mem://test" {
		t.Fatalf("TransientError = %+v", te)
	}
	s.FailWith("a/b", nil)
	if _, err := s.Get(ctx, "a/b"); err != nil {
		t.Fatalf("Get() after clearing failure error = %v", err)
	}
	if n := s.Gets("a/b"); n != 4 {
		t.Fatalf("Gets() = %d, want 4", n)
	}

	s.Delete("a/b")
	if _, err := s.Get(ctx, "a/b"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get(deleted) error = %v", err)
	}
	if keys := s.Keys(); len(keys) != 0 {
		t.Fatalf("Keys() = %v", keys)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.Get(canceled, "a/b"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Get(canceled) error = %v", err)
	}
}

func TestHTTPStore(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(nethttp.StatusUnauthorized)
			return
		}
		if r.Header.Get("Accept-Encoding") != "identity" {
			w.WriteHeader(nethttp.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/data.zarr/0/.zarray":
			_, _ = w.Write([]byte(`{"zarr_format":2}`))
		case "/data.zarr/0/big":
			_, _ = w.Write(make([]byte, 64))
		case "/data.zarr/0/flaky":
			w.WriteHeader(nethttp.StatusServiceUnavailable)
		default:
			nethttp.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	s, err := store.NewHTTPStore(server.URL+"/data.zarr",
		store.WithHeader("Authorization", "Bearer token"),
		store.WithMaxObjectBytes(32),
	)
	if err != nil {
		t.Fatalf("NewHTTPStore() error = %v", err)
	}
	ctx := context.Background()

	got, err := s.Get(ctx, "0/.zarray")
	if err != nil || string(got) != `{"zarr_format":2}` {
		t.Fatalf("Get() = %q, %v", got, err)
	}
	if _, err := s.Get(ctx, "0/0.0.0"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "0/flaky"); !errors.Is(err, store.ErrTransient) {
		t.Fatalf("Get(503) error = %v, want ErrTransient", err)
	}
	if _, err := s.Get(ctx, "0/big"); !errors.Is(err, store.ErrTransient) {
		t.Fatalf("Get(oversized) error = %v, want ErrTransient", err)
	}
	if requests.Load() != 4 {
		t.Fatalf("requests = %d, want 4", requests.Load())
	}

	unauthorized, err := store.NewHTTPStore(server.URL + "/data.zarr/")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := unauthorized.Get(ctx, "0/.zarray"); !errors.Is(err, store.ErrTransient) {
		t.Fatalf("Get(401) error = %v, want ErrTransient", err)
	}

	if _, err := store.NewHTTPStore("ftp://example.com"); !errors.Is(err, store.ErrInvalidLocation) {
		t.Fatalf("NewHTTPStore(ftp) error = %v", err)
	}
}

func TestParseLocation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want store.Location
		err  bool
	}{
		{in: "/data/img.zarr", want: store.Location{Scheme: "file", Path: "/data/img.zarr"}},
		{in: "relative/img.n5", want: store.Location{Scheme: "file", Path: "relative/img.n5"}},
		{in: "file:///data/img.zarr", want: store.Location{Scheme: "file", Path: "/data/img.zarr"}},
		{in: "s3://bucket/a/b.zarr/", want: store.Location{Scheme: "s3", Bucket: "bucket", Path: "a/b.zarr"}},
		{in: "s3://bucket", want: store.Location{Scheme: "s3", Bucket: "bucket", Path: ""}},
		{in: "https://host/x.zarr", want: store.Location{Scheme: "https", Path: "https://host/x.zarr"}},
		{in: "", err: true},
		{in: "s3:///nobucket", err: true},
		{in: "gs://bucket/x", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := store.ParseLocation(tt.in)
			if tt.err {
				if !errors.Is(err, store.ErrInvalidLocation) {
					t.Fatalf("ParseLocation(%q) error = %v, want ErrInvalidLocation", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ParseLocation(%q) = %+v, %v; want %+v", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := store.Open(context.Background(), "file://"+filepath.ToSlash(dir), store.OpenOptions{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, ok := s.(*store.FileStore); !ok {
		t.Fatalf("Open() = %T, want *FileStore", s)
	}
}

func TestNewS3StoreAnonymous(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Header.Get("Authorization") != "" {
			w.WriteHeader(nethttp.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/bucket/prefix/img.zarr/.zgroup":
			_, _ = w.Write([]byte(`{"zarr_format":2}`))
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(nethttp.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
		}
	}))
	t.Cleanup(server.Close)

	s, err := store.Open(context.Background(), "s3://bucket/img.zarr", store.OpenOptions{
		S3: store.S3Config{
			Prefix:    "prefix",
			Endpoint:  server.URL,
			Region:    "us-east-1",
			PathStyle: true,
			Auth:      store.AuthAnonymous,
		},
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ctx := context.Background()
	got, err := s.Get(ctx, ".zgroup")
	if err != nil || string(got) != `{"zarr_format":2}` {
		t.Fatalf("Get() = %q, %v", got, err)
	}
	if _, err := s.Get(ctx, "0/0.0.0"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestNewS3StoreCredentialChainFailsFast(t *testing.T) {
	// Not parallel: mutates the process environment.
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing-config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "missing-credentials"))
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_CONTAINER_CREDENTIALS_FULL_URI", "")
	t.Setenv("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI", "")
	t.Setenv("AWS_WEB_IDENTITY_TOKEN_FILE", "")

	_, err := store.NewS3Store(context.Background(), store.S3Config{
		Bucket: "bucket",
		Region: "us-east-1",
		Auth:   store.AuthCredentialChain,
	})
	if !errors.Is(err, store.ErrCredentials) {
		t.Fatalf("NewS3Store() error = %v, want ErrCredentials", err)
	}

	s, err := store.NewS3Store(context.Background(), store.S3Config{
		Bucket:          "bucket",
		Region:          "us-east-1",
		Auth:            store.AuthCredentialChain,
		AccessKeyID:     "AKID",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewS3Store(static) error = %v", err)
	}
	if s.Name() != "s3://bucket/" {
		t.Fatalf("Name() = %q", s.Name())
	}
}

func TestAuthMode(t *testing.T) {
	t.Parallel()

	for _, m := range []store.AuthMode{store.AuthAnonymous, store.AuthCredentialChain} {
		got, err := store.ParseAuthMode(m.String())
		if err != nil || got != m {
			t.Fatalf("ParseAuthMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := store.ParseAuthMode("iam"); err == nil {
		t.Fatal("ParseAuthMode(iam) should fail")
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()

	if got := store.Join("/", "s0", "0/1"); got != "s0/0/1" {
		t.Fatalf("Join() = %q", got)
	}
	if got := store.Join("", ".zattrs"); got != ".zattrs" {
		t.Fatalf("Join() = %q", got)
	}
}
