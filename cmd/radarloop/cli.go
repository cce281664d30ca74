package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/i474232898/weather-radar-loop/internal/config"
	"github.com/i474232898/weather-radar-loop/internal/radar"
)

var (
	widgetName string
	tileZoom   int
	tileCol    int
	tileRow    int
)

// fetchOnce polls the named widget's provider a single time.
func fetchOnce(cmd *cobra.Command) (radar.Provider, radar.Snapshot, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, radar.Snapshot{}, err
	}

	var w config.WidgetConfig
	if widgetName == "" {
		w = cfg.Widgets[0]
	} else {
		var ok bool
		if w, ok = cfg.Widget(widgetName); !ok {
			return nil, radar.Snapshot{}, fmt.Errorf("%w: %s", radar.ErrUnknownWidget, widgetName)
		}
	}

	provider, err := newProvider(w, httpConfig(cfg))
	if err != nil {
		return nil, radar.Snapshot{}, err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.HTTP.Timeout*3)
	defer cancel()
	snap, err := radar.Poll(ctx, provider)
	if err != nil {
		return nil, radar.Snapshot{}, err
	}

	// Trim to the window the widget would keep.
	window := radar.NewFrameWindow(w.FrameCount)
	window.ReplaceAll(snap.Frames)
	return provider, radar.NewSnapshot(window.Frames()), nil
}

// addFramesCmd adds a 'frames' subcommand that lists the frames a widget
// would show right now.
func addFramesCmd(rootCmd *cobra.Command) {
	framesCmd := &cobra.Command{
		Use:   "frames",
		Short: "List the frames currently offered for a widget",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, snap, err := fetchOnce(cmd)
			if err != nil {
				return err
			}

			cmd.Println(fmt.Sprintf("Provider: %s (%d frames)", provider.Name(), len(snap.Frames)))
			for _, f := range snap.Frames {
				cmd.Println(fmt.Sprintf("%s  %s  %s", f.ID, f.Timestamp.Format(time.RFC3339), f.SourceRef))
			}
			return nil
		},
	}
	framesCmd.Flags().StringVarP(&widgetName, "widget", "w", "", "Widget name (default: first configured)")
	rootCmd.AddCommand(framesCmd)
}

// addTilesCmd adds a 'tiles' subcommand that prints the upstream images
// composing one viewer tile of the newest frame.
func addTilesCmd(rootCmd *cobra.Command) {
	tilesCmd := &cobra.Command{
		Use:   "tiles",
		Short: "Show the upstream images behind one viewer tile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tileZoom < 0 || tileZoom > 22 {
				return fmt.Errorf("zoom must be between 0 and 22")
			}
			if limit := 1 << tileZoom; tileCol < 0 || tileRow < 0 || tileCol >= limit || tileRow >= limit {
				return fmt.Errorf("tile %d/%d/%d is outside the grid", tileZoom, tileCol, tileRow)
			}

			provider, snap, err := fetchOnce(cmd)
			if err != nil {
				return err
			}
			frame := snap.Frames[len(snap.Frames)-1]
			t := radar.TileAddress{Zoom: tileZoom, Col: tileCol, Row: tileRow}

			cmd.Println(fmt.Sprintf("Frame %s (%s)", frame.ID, frame.Timestamp.Format(time.RFC3339)))
			for _, src := range provider.BuildTileSources(frame) {
				images := src.Images(t)
				if len(images) == 0 {
					cmd.Println(fmt.Sprintf("[%s] no coverage", src.Scheme))
					continue
				}
				for _, img := range images {
					cmd.Println(fmt.Sprintf("[%s] %+4d,%+4d size %d  %s", src.Scheme, img.OffsetX, img.OffsetY, img.Size, img.URL))
				}
			}
			return nil
		},
	}
	tilesCmd.Flags().StringVarP(&widgetName, "widget", "w", "", "Widget name (default: first configured)")
	tilesCmd.Flags().IntVarP(&tileZoom, "zoom", "z", 6, "Viewer zoom level")
	tilesCmd.Flags().IntVarP(&tileCol, "col", "x", 0, "Viewer tile column")
	tilesCmd.Flags().IntVarP(&tileRow, "row", "y", 0, "Viewer tile row")
	rootCmd.AddCommand(tilesCmd)
}
