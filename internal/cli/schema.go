package cli

import (
	"github.com/spf13/cobra"

	"github.com/durocore/duro/internal/store"
)

// NewSchemaCommand implements `duro schema`: bootstrap the entity, signal
// queue, delayed signal queue, and signal store tables in the target
// database. Idempotent — safe to run against a database that already has
// the schema.
func NewSchemaCommand(opts *RootOptions) *cobra.Command {
	flags := &dbFlags{}

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "bootstrap the runtime schema in the target database",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := flags.catalog()
			if err != nil {
				return WrapExitError(ExitCommandError, "resolve catalog", err)
			}

			st, err := store.Open(flags.driver, flags.dsn, catalog)
			if err != nil {
				return WrapExitError(ExitCommandError, "open database", err)
			}
			defer st.Close()

			if err := st.Bootstrap(cmd.Context()); err != nil {
				return WrapExitError(ExitCommandError, "bootstrap schema", err)
			}

			return formatterFor(cmd, opts).Success(map[string]string{
				"driver": flags.driver,
				"status": "bootstrapped",
			})
		},
	}

	flags.register(cmd)
	return cmd
}
