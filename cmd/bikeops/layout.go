package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/MADA-gnuBD/bikeops/internal/layout"
	"github.com/MADA-gnuBD/bikeops/internal/mapview"
	"github.com/MADA-gnuBD/bikeops/models"
)

// layoutInput is the document read by the layout command.
type layoutInput struct {
	Viewport mapview.Viewport `json:"viewport"`
	Overlay  *layout.Options  `json:"overlay,omitempty"`
	Stations []models.Station `json:"stations"`
}

type layoutPlacement struct {
	layout.Placement
	Slot string `json:"slot"`
}

type layoutOutput struct {
	Placements []layoutPlacement `json:"placements"`
	Overlapped int               `json:"overlapped"`
}

func newLayoutCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Place overlays for a set of stations and print the result as JSON",
		Long: `layout reads {"viewport": ..., "stations": [...]} from --input (or stdin)
and prints the overlay placement the map view would compute for it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runLayout(in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON input file (default stdin)")
	return cmd
}

func runLayout(in io.Reader, out io.Writer) error {
	var doc layoutInput
	if err := json.NewDecoder(in).Decode(&doc); err != nil {
		return fmt.Errorf("decode layout input: %w", err)
	}
	if err := doc.Viewport.Validate(); err != nil {
		return err
	}
	opts := layout.DefaultOptions()
	if doc.Overlay != nil {
		opts = *doc.Overlay
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	if len(doc.Stations) == 0 {
		return errors.New("no stations to place")
	}

	items := make([]layout.Item, 0, len(doc.Stations))
	for _, s := range doc.Stations {
		items = append(items, layout.Item{Key: s.ID, Anchor: s.Point()})
	}
	placements, _ := layout.New(opts).Place(items, doc.Viewport)

	res := layoutOutput{Placements: make([]layoutPlacement, 0, len(placements))}
	for _, p := range placements {
		if p.Overlapped {
			res.Overlapped++
		}
		res.Placements = append(res.Placements, layoutPlacement{Placement: p, Slot: p.CandidateName()})
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
