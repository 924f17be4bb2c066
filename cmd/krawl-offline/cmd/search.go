package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-krawl-offline/internal/models"
	"go-krawl-offline/internal/store"
)

var searchLimit int

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 20, "Maximum number of results")
}

var searchCmd = &cobra.Command{
	Use:   "search [query...]",
	Short: "Search downloaded stops offline",
	Args:  cobra.MinimumNArgs(1),
	Run:   runSearch,
}

func runSearch(cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")

	s, err := openStore()
	if err != nil {
		log.WithError(err).Fatal("Offline storage unavailable")
	}
	defer s.Close()

	idx := openIndex()
	if idx == nil {
		log.Fatal("Search index unavailable")
	}
	defer idx.Close()

	hits, err := idx.Query(query, searchLimit)
	if err != nil {
		log.WithError(err).Fatal("Search failed")
	}
	if len(hits) == 0 {
		fmt.Printf("No downloaded stops match %q.\n", query)
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Stop\tTour\tName")
	fmt.Fprintln(tw, "----\t----\t----")
	for _, hit := range hits {
		name := ""
		var stop models.StopRecord
		if err := s.Get(store.Stops, hit.StopID, &stop); err == nil {
			name = stop.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", hit.StopID, hit.TourID, truncateString(name, 40))
	}
	tw.Flush()
}
