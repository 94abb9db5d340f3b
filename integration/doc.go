//go:build integration

// Package integration provides integration tests for the pyramid loader.
//
// These tests require Docker and serve synthetic pyramids from a MinIO
// container started with testcontainers.
// Run with: go test -tags=integration ./integration/...
package integration
