package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-krawl-offline/internal/helpers"
	"go-krawl-offline/internal/models"
	"go-krawl-offline/internal/store"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List downloaded tours",
	Run:   runList,
}

func runList(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		log.WithError(err).Fatal("Offline storage unavailable")
	}
	defer s.Close()

	tours, err := store.GetAll[models.TourRecord](s, store.Tours)
	if err != nil {
		log.WithError(err).Fatal("Failed to read tour records")
	}

	if len(tours) == 0 {
		fmt.Println("No tours downloaded.")
		return
	}

	sort.Slice(tours, func(i, j int) bool { return tours[i].Name < tours[j].Name })

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tName\tStops\tSize\tStatus\tDownloaded")
	fmt.Fprintln(tw, "--\t----\t-----\t----\t------\t----------")
	var total int64
	for _, tour := range tours {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			tour.ID,
			truncateString(tour.Name, 35),
			len(tour.StopIDs),
			helpers.BytesToSize(uint64(tour.Size)),
			tour.Status,
			tour.DownloadedAt.Local().Format("2006-01-02 15:04"),
		)
		total += tour.Size
	}
	tw.Flush()
	fmt.Printf("\n%d tours, %s total\n", len(tours), helpers.BytesToSize(uint64(total)))
}

// truncateString truncates a string to maxLen characters, adding "..." if truncated
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
