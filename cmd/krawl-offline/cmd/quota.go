package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-krawl-offline/internal/helpers"
)

func init() {
	rootCmd.AddCommand(quotaCmd)
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show storage usage for the offline cache",
	Run:   runQuota,
}

func runQuota(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		log.WithError(err).Fatal("Offline storage unavailable")
	}
	defer s.Close()

	report, err := newGuard().UsageReport(s)
	if err != nil {
		log.WithError(err).Fatal("Failed to compute storage usage")
	}

	if report.Quota == 0 {
		fmt.Println("Filesystem quota: unknown")
	} else {
		fmt.Printf("Filesystem quota: %s (%s used, %s available)\n",
			helpers.BytesToSize(uint64(report.Quota)),
			helpers.BytesToSize(uint64(report.Usage)),
			helpers.BytesToSize(uint64(report.Available)))
	}
	fmt.Printf("Cached tours:     %d (%s)\n", report.TourCount, helpers.BytesToSize(uint64(report.ToursSize)))
	if report.IsLow {
		fmt.Println("Storage is LOW: new downloads are blocked until space is freed")
	}
}
