package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moorhen/cartograph/internal/iql"
)

var queryCmd = &cobra.Command{
	Use:   "query <iql>",
	Short: "Run an IQL query against the graph store",
	Long: `Run an Infrastructure Query Language query against the configured
graph store and print the result as JSON.

Examples:
  cartograph query 'FIND resources WHERE provider = "aws" AND status = "running"'
  cartograph query 'FIND orphans'
  cartograph query 'SUMMARIZE resources BY provider'`,
	Args: cobra.MinimumNArgs(1),
	Run:  runQuery,
}

func runQuery(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	st, closeStore, err := openStore(ctx, cfg)
	HandleError(err, "Failed to open graph store")
	defer closeStore()

	result, err := iql.NewExecutor(st).Execute(ctx, strings.Join(args, " "))
	HandleError(err, "Query failed")

	out, err := json.MarshalIndent(result, "", "  ")
	HandleError(err, "Failed to encode result")
	fmt.Fprintln(os.Stdout, string(out))
}
