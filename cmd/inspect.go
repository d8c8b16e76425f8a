package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"pgmerge/feature/merge"

	"github.com/spf13/cobra"
)

var (
	inspectSession sessionFlags
	inspectTables  []string
	inspectJSON    bool
)

// inspectCmd prints the schema graph the merge works with.
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show tables, foreign keys and the insertion order",
	Long: `Introspects the database and prints every table with its identity
columns and dependencies, followed by the order tables are merged in.
With --table only the named tables and the tables they depend on are shown.`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

func init() {
	inspectSession.register(inspectCmd)
	inspectCmd.Flags().StringSliceVar(&inspectTables, "table", nil, "Show these tables and the tables they depend on")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print the result as JSON")
	RootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := newRuntime(inspectSession)
	if err != nil {
		return err
	}
	defer rt.Close()

	graph, err := rt.session.Graph(ctx)
	if err != nil {
		return err
	}
	info, err := merge.Describe(graph, inspectTables...)
	if err != nil {
		return err
	}

	if inspectJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Printf("\n--- Schema %s ---\n", info.Schema)
	for _, t := range info.Tables {
		fmt.Printf("%s\n", t.Name)
		fmt.Printf("  identity:    %s\n", strings.Join(t.IdentitySets, "; "))
		if len(t.DependsOn) > 0 {
			fmt.Printf("  depends on:  %s\n", strings.Join(t.DependsOn, ", "))
		}
		if t.SelfReference {
			fmt.Println("  self-referencing")
		}
	}
	if len(info.Edges) > 0 {
		fmt.Println("-----------------------------")
		fmt.Println("Foreign keys:")
		for _, e := range info.Edges {
			fmt.Printf("- %s(%s) -> %s\n", e.From, strings.Join(e.On, ", "), e.To)
		}
	}
	fmt.Println("-----------------------------")
	fmt.Println("Insertion order:")
	for i, name := range info.Order {
		fmt.Printf("%3d. %s\n", i+1, name)
	}
	if len(info.Warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range info.Warnings {
			fmt.Printf("- %s\n", w)
		}
	}
	return nil
}
