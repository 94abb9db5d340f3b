package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pyramid/core/chunked"
	"github.com/meigma/pyramid/core/codec"
	fixtures "github.com/meigma/pyramid/internal/testutil"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"pyramid"}, args...))
	return out.String(), err
}

func TestParseCell(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want [3]int64
		err  bool
	}{
		{in: "0,0,0"},
		{in: "3, 1,2", want: [3]int64{3, 1, 2}},
		{in: "1,2", err: true},
		{in: "1,2,z", err: true},
		{in: "", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := parseCell(tt.in)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := newLogger(&buf, "debug")
	require.NoError(t, err)
	logger.Debug("hello", "k", 1)
	assert.Contains(t, buf.String(), "msg=hello k=1")

	_, err = newLogger(&buf, "loud")
	require.Error(t, err)
}

func TestCommands(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := fixtures.Pyramid{
		Format:      chunked.N5,
		Shape:       [3]int64{20, 12, 8},
		Chunk:       [3]int{8, 8, 8},
		Levels:      2,
		Compression: codec.Gzip,
	}
	fixtures.WriteDir(t, dir, p)

	t.Run("inspect", func(t *testing.T) {
		t.Parallel()
		out, err := run(t, "inspect", dir)
		require.NoError(t, err)
		assert.Contains(t, out, "setup 0:")
		assert.Contains(t, out, "format: n5")
		assert.Contains(t, out, "20x12x8")
		assert.Contains(t, out, "10x6x4")
	})

	t.Run("fetch", func(t *testing.T) {
		t.Parallel()
		out, err := run(t, "fetch", "--cell", "2,1,0", dir)
		require.NoError(t, err)
		assert.Contains(t, out, "origin=store")
		assert.Contains(t, out, "dims=4x4x8")
	})

	t.Run("fetch out of bounds", func(t *testing.T) {
		t.Parallel()
		_, err := run(t, "fetch", "--cell", "9,0,0", dir)
		require.Error(t, err)
	})

	for _, strategy := range []string{"blocking", "budgeted"} {
		t.Run("profile "+strategy, func(t *testing.T) {
			t.Parallel()
			cpu := filepath.Join(t.TempDir(), "cpu.pprof")
			args := []string{"profile", "--strategy", strategy, "--frame", "1ms", "--level", "1"}
			if strategy == "blocking" {
				// one CPU profile per process
				args = append(args, "--cpuprofile", cpu)
			}
			out, err := run(t, append(args, dir)...)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(out, "strategy="+strategy), out)
			assert.Contains(t, out, "cells=2 ")
			if strategy == "blocking" {
				info, err := os.Stat(cpu)
				require.NoError(t, err)
				assert.Positive(t, info.Size())
			}
		})
	}

	t.Run("missing location", func(t *testing.T) {
		t.Parallel()
		_, err := run(t, "inspect")
		require.Error(t, err)
	})
}
