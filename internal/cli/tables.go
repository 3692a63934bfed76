package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacentio/socialgraph/store"
)

// CreateTablesOptions holds flags for the create-tables command.
type CreateTablesOptions struct {
	*RootOptions
	Wait time.Duration
}

// NewCreateTablesCommand creates the create-tables command.
func NewCreateTablesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateTablesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create-tables",
		Short: "Create the DynamoDB tables",
		Long: `Create the person, sequence and lock tables in DynamoDB and wait until
they are active. Existing tables are left as they are.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			client, err := newDynamoClient(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			sc := cfg.StoreConfig()
			if err := store.CreateTables(cmd.Context(), client, sc, opts.Wait); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tables ready: %s, %s, %s\n", sc.Table, sc.SequenceTable, sc.LockTable)
			return nil
		},
	}

	cmd.Flags().DurationVar(&opts.Wait, "wait", 2*time.Minute, "how long to wait for tables to become active")

	return cmd
}
