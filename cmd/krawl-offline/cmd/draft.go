package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-krawl-offline/internal/drafts"
	"go-krawl-offline/internal/uploads"
)

var (
	draftKind   string
	draftUserID string
	draftID     string
)

func init() {
	rootCmd.AddCommand(draftCmd)
	draftCmd.AddCommand(draftSaveCmd)
	draftCmd.AddCommand(draftListCmd)
	draftCmd.AddCommand(draftDeleteCmd)
	draftCmd.AddCommand(draftPurgeCmd)
	draftCmd.AddCommand(draftSubmitCmd)

	draftSaveCmd.Flags().StringVar(&draftKind, "kind", "stop", "Draft kind (stop, tour)")
	draftSaveCmd.Flags().StringVar(&draftUserID, "user", "", "Owning user id")
	draftSaveCmd.Flags().StringVar(&draftID, "id", "", "Existing draft id to update")
	draftListCmd.Flags().StringVar(&draftUserID, "user", "", "Filter by owning user id")
}

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Manage offline content drafts",
	Long: `Drafts keep content-creation work in progress across restarts and
connectivity loss. Untouched drafts expire after 30 days.`,
}

var draftSaveCmd = &cobra.Command{
	Use:   "save [payload-file]",
	Short: "Save a draft from a JSON payload file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s, err := openStore()
		if err != nil {
			log.WithError(err).Fatal("Offline storage unavailable")
		}
		defer s.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			log.WithError(err).Fatalf("Failed to read payload file %s", args[0])
		}
		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			log.WithError(err).Fatalf("Payload file %s is not valid JSON", args[0])
		}

		draft, err := drafts.NewManager(s).Save(draftID, draftKind, draftUserID, payload)
		if err != nil {
			log.WithError(err).Fatal("Failed to save draft")
		}
		fmt.Printf("Saved %s draft %s (expires %s)\n",
			draft.Kind, draft.ID, draft.ExpiresAt.Local().Format("2006-01-02"))
	},
}

var draftListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live drafts",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := openStore()
		if err != nil {
			log.WithError(err).Fatal("Offline storage unavailable")
		}
		defer s.Close()

		live, err := drafts.NewManager(s).List(draftUserID)
		if err != nil {
			log.WithError(err).Fatal("Failed to list drafts")
		}
		if len(live) == 0 {
			fmt.Println("No drafts.")
			return
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKind\tUser\tUpdated\tExpires")
		fmt.Fprintln(tw, "--\t----\t----\t-------\t-------")
		for _, draft := range live {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				draft.ID,
				draft.Kind,
				draft.UserID,
				draft.UpdatedAt.Local().Format("2006-01-02 15:04"),
				draft.ExpiresAt.Local().Format("2006-01-02"),
			)
		}
		tw.Flush()
	},
}

var draftDeleteCmd = &cobra.Command{
	Use:   "delete [draft-id]",
	Short: "Delete a draft",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s, err := openStore()
		if err != nil {
			log.WithError(err).Fatal("Offline storage unavailable")
		}
		defer s.Close()

		if err := drafts.NewManager(s).Delete(args[0]); err != nil {
			log.WithError(err).Fatalf("Failed to delete draft %s", args[0])
		}
		fmt.Printf("Deleted draft %s\n", args[0])
	},
}

var draftSubmitCmd = &cobra.Command{
	Use:   "submit [draft-id]",
	Short: "Queue a draft for upload and remove it",
	Long: `Move a draft into the upload queue. The content is pushed on the next
drain, so submitting works offline.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s, err := openStore()
		if err != nil {
			log.WithError(err).Fatal("Offline storage unavailable")
		}
		defer s.Close()

		manager := drafts.NewManager(s)
		draft, err := manager.Get(args[0])
		if err != nil {
			log.WithError(err).Fatalf("Failed to load draft %s", args[0])
		}

		queue, err := uploads.NewQueue(s, newAPIClient())
		if err != nil {
			log.WithError(err).Fatal("Failed to open upload queue")
		}
		item, err := queue.Enqueue(draft.Kind, draft.Data)
		if err != nil {
			log.WithError(err).Fatal("Failed to queue draft for upload")
		}
		if err := manager.Delete(draft.ID); err != nil {
			log.WithError(err).Warnf("Draft %s queued but not removed", draft.ID)
		}
		fmt.Printf("Queued draft %s as %s upload %s (seq %d)\n", draft.ID, item.Kind, item.ID, item.Seq)
	},
}

var draftPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Purge expired drafts",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := openStore()
		if err != nil {
			log.WithError(err).Fatal("Offline storage unavailable")
		}
		defer s.Close()

		purged, err := drafts.NewManager(s).PurgeExpired()
		if err != nil {
			log.WithError(err).Fatal("Failed to purge drafts")
		}
		fmt.Printf("Purged %d expired drafts\n", purged)
	},
}
