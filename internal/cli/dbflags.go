package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/durocore/duro/internal/sqlcatalog"
)

// dbFlags holds the --driver/--db pair every command that touches the
// store accepts, mirroring the teacher's repeated --db flag across
// run/replay/trace.
type dbFlags struct {
	driver string
	dsn    string
}

func (f *dbFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.driver, "driver", "sqlite3", "database driver (sqlite3|postgres|mysql)")
	cmd.Flags().StringVar(&f.dsn, "db", "", "data source name")
	cmd.MarkFlagRequired("db")
}

func (f *dbFlags) catalog() (*sqlcatalog.Catalog, error) {
	switch f.driver {
	case "sqlite3":
		return sqlcatalog.Default(), nil
	case "postgres":
		return sqlcatalog.Postgres(), nil
	case "mysql":
		return sqlcatalog.MySQL(), nil
	default:
		return nil, fmt.Errorf("unknown driver %q: must be sqlite3, postgres, or mysql", f.driver)
	}
}
