package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-krawl-offline/internal/uploads"
)

var (
	drainList    bool
	drainDiscard string
	drainEnqueue string
	drainKind    string
)

func init() {
	rootCmd.AddCommand(drainCmd)

	drainCmd.Flags().BoolVarP(&drainList, "list", "l", false, "List queued uploads without pushing")
	drainCmd.Flags().StringVar(&drainDiscard, "discard", "", "Discard a queued upload by id")
	drainCmd.Flags().StringVar(&drainEnqueue, "enqueue", "", "Queue an upload from a JSON payload file")
	drainCmd.Flags().StringVar(&drainKind, "kind", "stop", "Payload kind for --enqueue (stop, tour)")
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Push queued offline uploads to the server",
	Long: `Push every queued upload in submission order. Items that fail with a
transient error stay queued for the next drain; items the server
rejects are kept with the rejection recorded so they can be inspected
and discarded.`,
	Run: runDrain,
}

func runDrain(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		log.WithError(err).Fatal("Offline storage unavailable")
	}
	defer s.Close()

	queue, err := uploads.NewQueue(s, newAPIClient())
	if err != nil {
		log.WithError(err).Fatal("Failed to open upload queue")
	}

	switch {
	case drainEnqueue != "":
		enqueueFromFile(queue, drainEnqueue, drainKind)
	case drainDiscard != "":
		if err := queue.Discard(drainDiscard); err != nil {
			log.WithError(err).Fatalf("Failed to discard upload %s", drainDiscard)
		}
		fmt.Printf("Discarded %s\n", drainDiscard)
	case drainList:
		listQueue(queue)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := queue.Drain(ctx)
		if err != nil {
			log.WithError(err).Error("Drain ended early")
		}
		fmt.Printf("Pushed %d, rejected %d, retained %d\n", result.Pushed, result.Rejected, result.Retained)
	}
}

func enqueueFromFile(queue *uploads.Queue, path, kind string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).Fatalf("Failed to read payload file %s", path)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		log.WithError(err).Fatalf("Payload file %s is not valid JSON", path)
	}
	item, err := queue.Enqueue(kind, payload)
	if err != nil {
		log.WithError(err).Fatal("Failed to queue upload")
	}
	fmt.Printf("Queued %s upload %s (seq %d)\n", item.Kind, item.ID, item.Seq)
}

func listQueue(queue *uploads.Queue) {
	items, err := queue.Pending()
	if err != nil {
		log.WithError(err).Fatal("Failed to read upload queue")
	}
	if len(items) == 0 {
		fmt.Println("Upload queue is empty.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Seq\tID\tKind\tState\tQueued\tAttempts\tLast Error")
	fmt.Fprintln(tw, "---\t--\t----\t-----\t------\t--------\t----------")
	for _, item := range items {
		state := "queued"
		if item.Rejected {
			state = "rejected"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			item.Seq,
			item.ID,
			item.Kind,
			state,
			item.CreatedAt.Local().Format("2006-01-02 15:04"),
			item.Attempts,
			truncateString(item.LastError, 40),
		)
	}
	tw.Flush()
}
