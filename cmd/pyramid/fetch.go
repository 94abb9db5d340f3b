package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/meigma/pyramid/core/array"
)

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Load one cell and print its summary",
		ArgsUsage: "LOCATION",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "setup", Usage: "Setup id"},
			&cli.IntFlag{Name: "timepoint", Usage: "Timepoint"},
			&cli.IntFlag{Name: "level", Usage: "Resolution level (0 is finest)"},
			&cli.StringFlag{Name: "cell", Value: "0,0,0", Usage: "Grid position x,y,z"},
		},
		Action: runFetch,
	}
}

func runFetch(c *cli.Context) error {
	cell, err := parseCell(c.String("cell"))
	if err != nil {
		return err
	}
	l, err := newLoader(c)
	if err != nil {
		return err
	}
	defer l.Close()

	s, err := l.Setup(c.Context, c.Int("setup"))
	if err != nil {
		return err
	}
	img, err := s.Image(c.Int("timepoint"), c.Int("level"))
	if err != nil {
		return err
	}
	start := time.Now()
	b, err := img.Cell(c.Context, cell)
	if err != nil {
		return err
	}
	lo, hi := array.MinMax(b.Data)
	fmt.Fprintf(c.App.Writer, "cell %d,%d,%d level %d: origin=%s dims=%dx%dx%d type=%s min=%g max=%g elapsed=%s\n",
		cell[0], cell[1], cell[2], img.Level(), b.Origin,
		b.Dims[0], b.Dims[1], b.Dims[2], b.Data.DataType(), lo, hi, time.Since(start).Round(time.Microsecond))
	return nil
}
