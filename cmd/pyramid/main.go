// Command pyramid inspects and reads multiscale Zarr and N5 images.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/meigma/pyramid"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "pyramid:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "pyramid",
		Usage: "Inspect and read multiscale Zarr and N5 images",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML configuration file", EnvVars: []string{"PYRAMID_CONFIG"}},
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "Log level (debug, info, warn, error)", EnvVars: []string{"LOG_LEVEL"}},
			&cli.IntFlag{Name: "workers", Usage: "Fetcher goroutines (default from config or GOMAXPROCS)"},
			&cli.StringFlag{Name: "disk-cache", Usage: "Directory for the on-disk chunk cache"},
			&cli.StringFlag{Name: "s3-endpoint", Usage: "S3-compatible endpoint URL", EnvVars: []string{"S3_ENDPOINT"}},
			&cli.StringFlag{Name: "s3-region", Usage: "S3 region", EnvVars: []string{"AWS_REGION"}},
			&cli.BoolFlag{Name: "s3-path-style", Usage: "Use path-style S3 addressing"},
			&cli.StringFlag{Name: "s3-auth", Usage: "S3 credentials: anonymous or chain"},
		},
		Commands: []*cli.Command{
			inspectCommand(),
			fetchCommand(),
			profileCommand(),
		},
	}
}

// newLoader builds a loader for the command's location argument from the
// config file overlaid with global flags. extra options are applied last.
func newLoader(c *cli.Context, extra ...pyramid.Option) (*pyramid.Loader, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one LOCATION argument, got %d", c.NArg())
	}
	cfg := pyramid.DefaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = pyramid.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if c.IsSet("workers") {
		cfg.Fetch.Workers = c.Int("workers")
	}
	if c.IsSet("disk-cache") {
		cfg.DiskCache.Dir = c.String("disk-cache")
	}
	if c.IsSet("s3-endpoint") {
		cfg.S3.Endpoint = c.String("s3-endpoint")
	}
	if c.IsSet("s3-region") {
		cfg.S3.Region = c.String("s3-region")
	}
	if c.IsSet("s3-path-style") {
		cfg.S3.PathStyle = c.Bool("s3-path-style")
	}
	if c.IsSet("s3-auth") {
		cfg.S3.Auth = c.String("s3-auth")
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(c.App.ErrWriter, c.String("log-level"))
	if err != nil {
		return nil, err
	}
	opts = append(opts, pyramid.WithLogger(logger))
	opts = append(opts, extra...)
	return pyramid.New(c.Args().First(), opts...)
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// parseCell parses "x,y,z" grid coordinates.
func parseCell(s string) ([3]int64, error) {
	var cell [3]int64
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return cell, fmt.Errorf("cell %q: want x,y,z", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return cell, fmt.Errorf("cell %q: %w", s, err)
		}
		cell[i] = v
	}
	return cell, nil
}
