package main

import (
	"fmt"
	"log"
	"sort"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Reconcile staff presence and queue order after a restart",
	Long: `Recover copies the online markers held in Redis into the database,
marks staff without a marker offline, reports the mirrored socket
connections and finishes with a full queue reorder.`,
	RunE: runRecover,
}

func runRecover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, log.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.recovery.Run(cmd.Context())
	if err != nil {
		return err
	}
	if res.Skipped {
		fmt.Println("Ordering store unreachable; nothing changed.")
		return nil
	}
	fmt.Printf("Marked online:  %d\n", len(res.MarkedOn))
	fmt.Printf("Marked offline: %d\n", len(res.MarkedOff))
	if len(res.Unknown) > 0 {
		fmt.Printf("Unknown staff:  %v\n", res.Unknown)
	}
	kinds := make([]string, 0, len(res.Connections))
	for k := range res.Connections {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("Connections (%s): %d\n", k, res.Connections[k])
	}
	if res.Reorder != nil {
		fmt.Printf("Queue: %d updated, %d restored, %d pruned\n", res.Reorder.Updated, res.Reorder.Restored, res.Reorder.Pruned)
	}
	return nil
}
