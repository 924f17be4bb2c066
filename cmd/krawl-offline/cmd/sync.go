package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-krawl-offline/internal/syncer"
	"go-krawl-offline/internal/uploads"
)

var (
	syncWatch bool
	syncVisit []string
)

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVarP(&syncWatch, "watch", "w", false, "Keep running: probe connectivity and sync on every transition to online")
	syncCmd.Flags().StringSliceVar(&syncVisit, "visit", nil, "Record a stop visit before syncing, as tour-id:stop-id")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync local visit progress and drain queued uploads",
	Long: `Push locally recorded visit progress to the server, adopt the merged
result, and drain the pending upload queue. With --watch the command
stays resident, probing connectivity and syncing automatically
whenever the connection comes back.`,
	Run: runSync,
}

func runSync(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		log.WithError(err).Fatal("Offline storage unavailable")
	}
	defer s.Close()

	client := newAPIClient()
	queue, err := uploads.NewQueue(s, client)
	if err != nil {
		log.WithError(err).Fatal("Failed to open upload queue")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probeInterval := time.Duration(globalConfig.Sync.ProbeIntervalSec) * time.Second
	monitor := syncer.NewPollMonitor(globalConfig.BaseURL+"/health", probeInterval, nil)

	interval := time.Duration(globalConfig.Sync.IntervalSec) * time.Second
	engine := syncer.NewEngine(s, client, queue, monitor, interval)

	for _, visit := range syncVisit {
		tourID, stopID, ok := splitVisit(visit)
		if !ok {
			log.Warnf("Ignoring malformed --visit value %q, expected tour-id:stop-id", visit)
			continue
		}
		if err := engine.MarkVisited(ctx, tourID, stopID); err != nil {
			log.WithError(err).Errorf("Failed to record visit %s", visit)
		}
	}

	if syncWatch {
		log.Info("Watching connectivity; press Ctrl-C to stop")
		go monitor.Run(ctx)
		engine.Run(ctx)
		return
	}

	status := engine.Cycle(ctx)
	for _, result := range status.Results {
		if result.Err != "" {
			fmt.Printf("tour %s: FAILED (%s)\n", result.TourID, result.Err)
		} else {
			fmt.Printf("tour %s: synced\n", result.TourID)
		}
	}
	if len(status.Results) == 0 {
		fmt.Println("Nothing to sync.")
	}
}

func splitVisit(s string) (tourID, stopID string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			if i == 0 || i == len(s)-1 {
				return "", "", false
			}
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
