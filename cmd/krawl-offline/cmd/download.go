package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-krawl-offline/internal/helpers"
	"go-krawl-offline/internal/models"
	"go-krawl-offline/internal/pipeline"
	"go-krawl-offline/internal/tiles"
)

var downloadConcurrency int

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().IntVarP(&downloadConcurrency, "concurrency", "c", 0, "Concurrent media fetches (overrides config)")
}

var downloadCmd = &cobra.Command{
	Use:   "download [tour-id...]",
	Short: "Download tours for offline use",
	Long: `Download one or more tours, including every stop, media asset and,
when a tile source is configured, the map tiles covering the tour area,
so they remain fully usable without connectivity.

A tour that previously failed part-way resumes where it left off:
already-cached media is never fetched again. Interrupting with Ctrl-C
keeps everything downloaded so far.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runDownload,
}

func runDownload(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		log.WithError(err).Fatal("Offline storage unavailable")
	}
	defer s.Close()

	idx := openIndex()
	if idx != nil {
		defer idx.Close()
	}

	concurrency := globalConfig.Download.Concurrency
	if downloadConcurrency > 0 {
		concurrency = downloadConcurrency
	}

	p := pipeline.New(s, newAPIClient(), newGuard(), pipeline.NewRegistry(), idx, concurrency)
	p.TileURL = globalConfig.Download.TileURL
	p.TileZooms = tiles.ZoomRange(globalConfig.Download.TileZoomMin, globalConfig.Download.TileZoomMax)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failures := 0
	for _, tourID := range args {
		if ctx.Err() != nil {
			log.Warn("Interrupted, remaining tours skipped")
			break
		}
		if err := downloadOne(ctx, p, tourID); err != nil {
			failures++
		}
	}

	if failures > 0 {
		log.Errorf("%d of %d tours failed to download", failures, len(args))
		os.Exit(1)
	}
}

// downloadOne runs a single tour download, rendering live progress until
// the run reaches a terminal state.
func downloadOne(ctx context.Context, p *pipeline.Pipeline, tourID string) error {
	d, err := p.Start(ctx, tourID)
	if err != nil {
		log.WithError(err).Errorf("Cannot start download for tour %s", tourID)
		return err
	}

	writer := uilive.New()
	writer.Start()
	defer writer.Stop()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	render := func(progress models.DownloadProgress) {
		fmt.Fprintf(writer, "[%s] %3d%% %s (%s)\n",
			tourID, progress.Percent, progress.CurrentStep,
			helpers.BytesToSize(uint64(progress.DownloadedBytes)))
	}

	for {
		select {
		case <-ticker.C:
			render(d.Progress())
		case <-d.Done():
			final := d.Progress()
			render(final)
			p.Registry.Release(tourID)
			if final.Status == models.DownloadStatusFailed {
				return fmt.Errorf("download failed: %s", final.CurrentStep)
			}
			return nil
		}
	}
}
