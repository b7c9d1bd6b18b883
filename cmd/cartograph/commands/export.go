package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moorhen/cartograph/internal/importexport"
)

var exportOutputPath string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the graph as a JSON snapshot",
	Long: `Export every node and edge in the configured graph store as a JSON
snapshot document, suitable for backups and for seeding another store
with the import command.`,
	Run: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutputPath, "output", "o", "",
		"Snapshot file to write (default: stdout)")
}

func runExport(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	st, closeStore, err := openStore(ctx, cfg)
	HandleError(err, "Failed to open graph store")
	defer closeStore()

	var report *importexport.Report
	if exportOutputPath == "" {
		report, err = importexport.Export(ctx, st, os.Stdout)
	} else {
		report, err = importexport.ExportToFile(ctx, st, exportOutputPath)
	}
	HandleError(err, "Export failed")

	fmt.Fprintf(os.Stderr, "Exported %d nodes and %d edges in %s\n",
		report.Nodes, report.Edges, report.Duration.Round(0))
}
