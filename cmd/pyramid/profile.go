package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/pyramid"
	"github.com/meigma/pyramid/core/cache"
)

type profileStats struct {
	cells   int64
	empty   int64
	frames  int
	elapsed time.Duration
}

func profileCommand() *cli.Command {
	return &cli.Command{
		Name:      "profile",
		Usage:     "Load every cell of a level and report throughput",
		ArgsUsage: "LOCATION",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "setup", Usage: "Setup id"},
			&cli.IntFlag{Name: "timepoint", Usage: "Timepoint"},
			&cli.IntFlag{Name: "level", Usage: "Resolution level (0 is finest)"},
			&cli.StringFlag{Name: "strategy", Value: "blocking", Usage: "Load strategy: blocking or budgeted"},
			&cli.IntFlag{Name: "readers", Value: 16, Usage: "Concurrent readers for the blocking strategy"},
			&cli.DurationFlag{Name: "frame", Value: 16 * time.Millisecond, Usage: "Frame interval for the budgeted strategy"},
			&cli.StringFlag{Name: "pprof-addr", Usage: "Serve pprof and /metrics on this address"},
			&cli.StringFlag{Name: "cpuprofile", Usage: "Write a CPU profile to this file"},
			&cli.StringFlag{Name: "memprofile", Usage: "Write a heap profile to this file"},
			&cli.StringFlag{Name: "trace", Usage: "Write an execution trace to this file"},
		},
		Action: runProfile,
	}
}

//nolint:gocognit // profiling setup and teardown
func runProfile(c *cli.Context) error {
	strategy, err := cache.ParseStrategy(c.String("strategy"))
	if err != nil {
		return err
	}
	if strategy == cache.DontLoad {
		return errors.New("profile: the dontload strategy never loads anything")
	}

	reg := prometheus.NewRegistry()
	if addr := c.String("pprof-addr"); addr != "" {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorHandling: promhttp.HTTPErrorOnError}))
		go func() {
			slog.Info("pprof listening", "addr", addr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("pprof server", "error", err)
			}
		}()
	}

	l, err := newLoader(c, pyramid.WithMetrics(reg))
	if err != nil {
		return err
	}
	defer l.Close()

	s, err := l.Setup(c.Context, c.Int("setup"))
	if err != nil {
		return err
	}

	if path := c.String("cpuprofile"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}
	if path := c.String("trace"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := trace.Start(f); err != nil {
			return err
		}
		defer trace.Stop()
	}

	var stats profileStats
	switch strategy {
	case cache.Blocking:
		img, err := s.Image(c.Int("timepoint"), c.Int("level"))
		if err != nil {
			return err
		}
		stats, err = profileBlocking(c.Context, img, c.Int("readers"))
		if err != nil {
			return err
		}
	default:
		img, err := s.VolatileImage(c.Int("timepoint"), c.Int("level"))
		if err != nil {
			return err
		}
		stats, err = profileBudgeted(c.Context, l, img, c.Duration("frame"))
		if err != nil {
			return err
		}
	}

	if path := c.String("memprofile"); path != "" {
		runtime.GC()
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := pprof.WriteHeapProfile(f); err != nil {
			return err
		}
	}

	st := l.Stats()
	fmt.Fprintf(c.App.Writer, "strategy=%s cells=%d empty=%d frames=%d hits=%d misses=%d elapsed=%s rate=%.1f cells/s\n",
		strategy, stats.cells, stats.empty, stats.frames, st.Cache.Hits, st.Cache.Misses,
		stats.elapsed.Round(time.Millisecond), float64(stats.cells)/stats.elapsed.Seconds())
	return nil
}

// forEachCell calls fn for every grid position of img, x fastest.
func forEachCell(img *pyramid.CellImage, fn func([3]int64) error) error {
	g := img.GridDims()
	for z := range g[2] {
		for y := range g[1] {
			for x := range g[0] {
				if err := fn([3]int64{x, y, z}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func profileBlocking(ctx context.Context, img *pyramid.CellImage, readers int) (profileStats, error) {
	var cells, empty atomic.Int64
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(readers, 1))
	err := forEachCell(img, func(cell [3]int64) error {
		g.Go(func() error {
			b, err := img.Cell(ctx, cell)
			if err != nil {
				return err
			}
			cells.Add(1)
			if b.Empty() {
				empty.Add(1)
			}
			return nil
		})
		return nil
	})
	if werr := g.Wait(); err == nil {
		err = werr
	}
	return profileStats{cells: cells.Load(), empty: empty.Load(), frames: 1, elapsed: time.Since(start)}, err
}

// profileBudgeted renders frames until every cell of img is resident.
func profileBudgeted(ctx context.Context, l *pyramid.Loader, img *pyramid.CellImage, frame time.Duration) (profileStats, error) {
	var stats profileStats
	start := time.Now()
	ticker := time.NewTicker(max(frame, time.Millisecond))
	defer ticker.Stop()
	for {
		l.PrepareNextFrame()
		stats.frames++
		var ready, empty, total int64
		err := forEachCell(img, func(cell [3]int64) error {
			total++
			b, err := img.Cell(ctx, cell)
			switch {
			case errors.Is(err, pyramid.ErrNotReady):
				return nil
			case err != nil:
				return err
			}
			ready++
			if b.Empty() {
				empty++
			}
			return nil
		})
		if err != nil {
			return stats, err
		}
		if ready == total {
			stats.cells, stats.empty = ready, empty
			stats.elapsed = time.Since(start)
			return stats, nil
		}
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-ticker.C:
		}
	}
}
