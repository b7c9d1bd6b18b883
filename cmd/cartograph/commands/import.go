package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moorhen/cartograph/internal/importexport"
)

var (
	importSkipExisting bool
	importDryRun       bool
)

var importCmd = &cobra.Command{
	Use:   "import <snapshot.json>",
	Short: "Import a JSON snapshot into the graph store",
	Args:  cobra.ExactArgs(1),
	Run:   runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importSkipExisting, "skip-existing", false,
		"Leave nodes that already exist in the store untouched")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false,
		"Validate and report without writing")
}

func runImport(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	st, closeStore, err := openStore(ctx, cfg)
	HandleError(err, "Failed to open graph store")
	defer closeStore()

	report, err := importexport.ImportFromFile(ctx, st, args[0], importexport.ImportOptions{
		SkipExisting: importSkipExisting,
		DryRun:       importDryRun,
	})
	HandleError(err, "Import failed")

	fmt.Fprintf(os.Stderr, "Imported %d nodes and %d edges (%d nodes skipped, %d edges skipped)\n",
		report.Nodes, report.Edges, report.NodesSkipped, report.EdgesSkipped)
	for _, e := range report.Errors {
		fmt.Fprintf(os.Stderr, "  warning: %s\n", e)
	}
}
