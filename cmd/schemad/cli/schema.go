package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/faucetdb/schemad/internal/adapter"
	"github.com/faucetdb/schemad/internal/model"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and delete declared schemas",
		Long: `Read the schemas declared on the configured database directly, without a
running server. Changes made here are not broadcast to running instances.`,
	}

	cmd.AddCommand(newSchemaListCmd())
	cmd.AddCommand(newSchemaGetCmd())
	cmd.AddCommand(newSchemaDeleteCmd())

	return cmd
}

// withAdapter opens the configured backend quietly, runs fn and closes it.
func withAdapter(fn func(ctx context.Context, a *adapter.Adapter) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, io.Discard, false)

	ctx := context.Background()
	inst, err := openAdapter(ctx, cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer inst.Close(ctx)
	return fn(ctx, inst.adapter)
}

// ---------- schema list ----------

func newSchemaListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List declared schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdapter(func(ctx context.Context, a *adapter.Adapter) error {
				return printSchemaList(cmd.OutOrStdout(), a.GetSchemas(), jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func printSchemaList(out io.Writer, schemas []*adapter.SchemaAdapter, jsonOutput bool) error {
	if jsonOutput {
		wires := make([]model.WireSchema, 0, len(schemas))
		for _, sa := range schemas {
			w, err := model.ToWire(sa.Schema)
			if err != nil {
				return err
			}
			wires = append(wires, w)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(wires)
	}

	if len(schemas) == 0 {
		fmt.Fprintln(out, "No schemas declared.")
		return nil
	}

	fmt.Fprintf(out, "%-24s %-20s %-24s %-7s %-10s %-7s\n", "NAME", "OWNER", "COLLECTION", "FIELDS", "EXTENSIONS", "VERSION")
	fmt.Fprintf(out, "%-24s %-20s %-24s %-7s %-10s %-7s\n", "----", "-----", "----------", "------", "----------", "-------")
	for _, sa := range schemas {
		fmt.Fprintf(out, "%-24s %-20s %-24s %-7d %-10d %-7d\n",
			sa.Name(), sa.Owner(), sa.Schema.Collection(),
			len(sa.Schema.Fields), len(sa.Extensions()), sa.Version)
	}
	return nil
}

// ---------- schema get ----------

func newSchemaGetCmd() *cobra.Command {
	var original bool

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Print a schema definition as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdapter(func(ctx context.Context, a *adapter.Adapter) error {
				sa, err := a.GetSchema(args[0])
				if err != nil {
					return err
				}
				s := sa.Schema
				if original {
					s = sa.Original()
				}
				w, err := model.ToWire(s)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(w)
			})
		},
	}

	cmd.Flags().BoolVar(&original, "original", false, "Print the schema without extensions")

	return cmd
}

// ---------- schema delete ----------

func newSchemaDeleteCmd() *cobra.Command {
	var (
		dropData bool
		module   string
	)

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a schema, optionally dropping its data",
		Example: `  schemad schema delete Users
  schemad schema delete Users --drop-data --module authentication`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdapter(func(ctx context.Context, a *adapter.Adapter) error {
				name := args[0]
				owner := module
				if owner == "" {
					sa, err := a.GetSchema(name)
					if err != nil {
						return err
					}
					owner = sa.Owner()
				}
				msg, err := a.DeleteSchema(ctx, name, dropData, owner)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				if dropData {
					fmt.Fprintf(cmd.OutOrStdout(), "Dropped the data of %q.\n", name)
				}
				fmt.Fprintln(os.Stderr, "Running instances keep the schema until they restart or resync.")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dropData, "drop-data", false, "Also drop the stored records")
	cmd.Flags().StringVar(&module, "module", "", "Act as this module (defaults to the schema owner)")

	return cmd
}
