package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
)

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "List the setups and resolution levels of an image",
		ArgsUsage: "LOCATION",
		Action:    runInspect,
	}
}

func runInspect(c *cli.Context) error {
	l, err := newLoader(c)
	if err != nil {
		return err
	}
	defer l.Close()

	setups, err := l.Setups(c.Context)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "location: %s\n", l.Location())
	for _, s := range setups {
		voxel, unit := s.VoxelSize()
		fmt.Fprintf(w, "\nsetup %d: %s (image %d, channel %d)\n", s.ID(), s.Name(), s.ImageIndex(), s.Channel())
		fmt.Fprintf(w, "  format: %s  type: %s  timepoints: %d  voxel: %gx%gx%g %s\n",
			s.Format(), s.DataType(), s.NumTimepoints(), voxel[0], voxel[1], voxel[2], unit)

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  LEVEL\tFACTORS\tSIZE\tCELL")
		factors := s.MipmapResolutions()
		for level := range s.NumMipmapLevels() {
			size, err := s.ImageSize(0, level)
			if err != nil {
				return err
			}
			cell, err := s.CellDims(level)
			if err != nil {
				return err
			}
			f := factors[level]
			fmt.Fprintf(tw, "  %d\t%g,%g,%g\t%dx%dx%d\t%dx%dx%d\n", level,
				f[0], f[1], f[2], size[0], size[1], size[2], cell[0], cell[1], cell[2])
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
