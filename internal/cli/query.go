package cli

import (
	"encoding/base64"

	"github.com/spf13/cobra"

	"github.com/durocore/duro/internal/store"
)

// entityRow is the CLI's wire shape for one result row: entity bytes are
// base64-encoded rather than decoded, since the CLI has no Serializer or
// Behavior compiled in to interpret them — that's left to the embedding
// application. `duro query` is an operational inspection tool, not a
// substitute for the library's Query API.
type entityRow struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Bytes string `json:"bytes"`
}

func toEntityRow(r store.EntityRow) entityRow {
	return entityRow{ID: r.ID, State: r.State, Bytes: base64.StdEncoding.EncodeToString(r.Bytes)}
}

// NewQueryCommand implements `duro query get|list|by-property|by-range`,
// read-only inspection commands over the entity and property tables.
func NewQueryCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "inspect entities and their property index",
	}
	cmd.AddCommand(newQueryGetCommand(opts))
	cmd.AddCommand(newQueryListCommand(opts))
	cmd.AddCommand(newQueryByPropertyCommand(opts))
	cmd.AddCommand(newQueryByRangeCommand(opts))
	return cmd
}

func openStore(flags *dbFlags) (*store.Store, error) {
	catalog, err := flags.catalog()
	if err != nil {
		return nil, err
	}
	return store.Open(flags.driver, flags.dsn, catalog)
}

func newQueryGetCommand(opts *RootOptions) *cobra.Command {
	flags := &dbFlags{}
	var class, id string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "read one entity by class and id",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(flags)
			if err != nil {
				return WrapExitError(ExitCommandError, "open database", err)
			}
			defer st.Close()

			bytes, state, ok, err := st.Entity.ReadEntity(cmd.Context(), st.DB(), class, id)
			if err != nil {
				return WrapExitError(ExitCommandError, "read entity", err)
			}
			if !ok {
				return NewExitError(ExitFailure, "no such entity")
			}
			return formatterFor(cmd, opts).Success(toEntityRow(store.EntityRow{ID: id, State: state, Bytes: bytes}))
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&class, "class", "", "entity class")
	cmd.Flags().StringVar(&id, "id", "", "entity id")
	cmd.MarkFlagRequired("class")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newQueryListCommand(opts *RootOptions) *cobra.Command {
	flags := &dbFlags{}
	var class string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "list every entity of a class",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(flags)
			if err != nil {
				return WrapExitError(ExitCommandError, "open database", err)
			}
			defer st.Close()

			rows, err := st.Entity.ListAll(cmd.Context(), st.DB(), class)
			if err != nil {
				return WrapExitError(ExitCommandError, "list entities", err)
			}
			out := make([]entityRow, 0, len(rows))
			for _, r := range rows {
				out = append(out, toEntityRow(r))
			}
			return formatterFor(cmd, opts).Success(out)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&class, "class", "", "entity class")
	cmd.MarkFlagRequired("class")
	return cmd
}

func newQueryByPropertyCommand(opts *RootOptions) *cobra.Command {
	flags := &dbFlags{}
	var class, name, value string

	cmd := &cobra.Command{
		Use:   "by-property",
		Short: "list entities matching a single property value",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(flags)
			if err != nil {
				return WrapExitError(ExitCommandError, "open database", err)
			}
			defer st.Close()

			rows, err := st.Entity.ByProperty(cmd.Context(), st.DB(), class, name, value)
			if err != nil {
				return WrapExitError(ExitCommandError, "query by property", err)
			}
			out := make([]entityRow, 0, len(rows))
			for _, r := range rows {
				out = append(out, toEntityRow(r))
			}
			return formatterFor(cmd, opts).Success(out)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&class, "class", "", "entity class")
	cmd.Flags().StringVar(&name, "name", "", "property name")
	cmd.Flags().StringVar(&value, "value", "", "property value")
	cmd.MarkFlagRequired("class")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("value")
	return cmd
}

func newQueryByRangeCommand(opts *RootOptions) *cobra.Command {
	flags := &dbFlags{}
	var (
		class, name, value, rangeName string
		rangeStart, rangeEnd          int64
		limit                         int
		lastID                        string
	)

	cmd := &cobra.Command{
		Use:   "by-range",
		Short: "list entities matching a property value with a numeric range on a second property, keyset-paginated",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(flags)
			if err != nil {
				return WrapExitError(ExitCommandError, "open database", err)
			}
			defer st.Close()

			rows, err := st.Entity.ByPropertyRange(cmd.Context(), st.DB(), store.RangeQuery{
				Class: class, Name: name, Value: value, RangeName: rangeName,
				RangeStart: rangeStart, StartInclusive: true,
				RangeEnd: rangeEnd, EndInclusive: true,
				Limit: limit, LastID: lastID,
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "query by range", err)
			}
			out := make([]entityRow, 0, len(rows))
			for _, r := range rows {
				out = append(out, toEntityRow(r))
			}
			return formatterFor(cmd, opts).Success(out)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&class, "class", "", "entity class")
	cmd.Flags().StringVar(&name, "name", "", "equality property name")
	cmd.Flags().StringVar(&value, "value", "", "equality property value")
	cmd.Flags().StringVar(&rangeName, "range-name", "", "numeric range property name")
	cmd.Flags().Int64Var(&rangeStart, "range-start", 0, "inclusive lower bound")
	cmd.Flags().Int64Var(&rangeEnd, "range-end", 0, "inclusive upper bound")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows to return")
	cmd.Flags().StringVar(&lastID, "last-id", "", "keyset pagination cursor: last id seen")
	cmd.MarkFlagRequired("class")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("value")
	cmd.MarkFlagRequired("range-name")
	return cmd
}
