package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-krawl-offline/internal/helpers"
	"go-krawl-offline/internal/models"
	"go-krawl-offline/internal/pipeline"
	"go-krawl-offline/internal/store"
)

var removeForce bool

func init() {
	rootCmd.AddCommand(removeCmd)

	removeCmd.Flags().BoolVarP(&removeForce, "force", "f", false, "Skip confirmation prompt")
}

var removeCmd = &cobra.Command{
	Use:   "remove [tour-id...]",
	Short: "Remove downloaded tours from the offline cache",
	Long: `Remove one or more downloaded tours, including their stops and any
media not shared with another downloaded tour. Local visit progress
for the tour is dropped as well.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runRemove,
}

func runRemove(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		log.WithError(err).Fatal("Offline storage unavailable")
	}
	defer s.Close()

	idx := openIndex()
	if idx != nil {
		defer idx.Close()
	}

	p := pipeline.New(s, nil, nil, pipeline.NewRegistry(), idx, 0)

	for _, tourID := range args {
		var tour models.TourRecord
		if err := s.Get(store.Tours, tourID, &tour); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Warnf("Tour %s is not downloaded", tourID)
				continue
			}
			log.WithError(err).Errorf("Failed to read tour %s", tourID)
			continue
		}

		if !removeForce && !confirmRemove(tour) {
			log.Infof("Skipped %s", tourID)
			continue
		}

		if err := p.Remove(tourID); err != nil {
			log.WithError(err).Errorf("Failed to remove tour %s", tourID)
			continue
		}
		fmt.Printf("Removed %s (%s, %s)\n", tour.Name, tourID, helpers.BytesToSize(uint64(tour.Size)))
	}
}

func confirmRemove(tour models.TourRecord) bool {
	fmt.Printf("Remove \"%s\" (%d stops, %s)? (y/N): ",
		tour.Name, len(tour.StopIDs), helpers.BytesToSize(uint64(tour.Size)))

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		log.WithError(err).Error("Error reading input")
		return false
	}
	input = strings.TrimSpace(strings.ToLower(input))
	return input == "y" || input == "yes"
}
