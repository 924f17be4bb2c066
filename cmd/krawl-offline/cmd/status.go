package cmd

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-krawl-offline/internal/helpers"
	"go-krawl-offline/internal/models"
	"go-krawl-offline/internal/pipeline"
	"go-krawl-offline/internal/store"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status [tour-id]",
	Short: "Show the offline state of a downloaded tour",
	Long: `Show a downloaded tour's record, verify that every referenced media
asset is actually present, and report local visit progress.`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) {
	tourID := args[0]

	s, err := openStore()
	if err != nil {
		log.WithError(err).Fatal("Offline storage unavailable")
	}
	defer s.Close()

	var tour models.TourRecord
	if err := s.Get(store.Tours, tourID, &tour); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Fatalf("Tour %s is not downloaded", tourID)
		}
		log.WithError(err).Fatalf("Failed to read tour %s", tourID)
	}

	complete, err := pipeline.Verify(s, tourID)
	if err != nil {
		log.WithError(err).Fatalf("Failed to verify tour %s", tourID)
	}

	fmt.Printf("Tour:       %s (%s)\n", tour.Name, tour.ID)
	fmt.Printf("Status:     %s\n", tour.Status)
	fmt.Printf("Stops:      %d\n", len(tour.StopIDs))
	fmt.Printf("Size:       %s\n", helpers.BytesToSize(uint64(tour.Size)))
	if tileSize, err := pipeline.TileCacheSize(s, tourID); err == nil && tileSize > 0 {
		fmt.Printf("Map tiles:  %s\n", helpers.BytesToSize(uint64(tileSize)))
	}
	fmt.Printf("Downloaded: %s\n", tour.DownloadedAt.Local().Format("2006-01-02 15:04:05"))
	if complete {
		fmt.Println("Verified:   all media present")
	} else {
		fmt.Println("Verified:   INCOMPLETE, re-run download to fetch missing media")
	}

	var progress models.TourProgress
	if err := s.Get(store.Progress, tourID, &progress); err == nil {
		fmt.Printf("Visited:    %d of %d stops", len(progress.VisitedStops), len(tour.StopIDs))
		if progress.Dirty {
			fmt.Print(" (sync pending)")
		}
		fmt.Println()
	}
}
