package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/durocore/duro/internal/idgen"
	"github.com/durocore/duro/internal/store"
)

// NewSignalCommand implements `duro signal`: durably enqueue one signal for
// (class, id), reading its event bytes verbatim from a file. The CLI never
// interprets event bytes — that's the Serializer's and the Behavior's job,
// both of which live in the embedding application, not here — so
// --event-file's contents are stored opaquely, exactly as the FSM Adapter
// documents.
func NewSignalCommand(opts *RootOptions) *cobra.Command {
	flags := &dbFlags{}
	var (
		class         string
		id            string
		eventClass    string
		eventFile     string
		at            string
		fromClass     string
		fromID        string
		correlationID string
	)

	cmd := &cobra.Command{
		Use:   "signal",
		Short: "publish a signal to an entity",
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

			eventBytes, err := os.ReadFile(eventFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "read event file", err)
			}

			if correlationID == "" {
				correlationID = idgen.UUIDv7Generator{}.Generate()
			}

			if at == "" {
				seq, err := st.Signals.Enqueue(cmd.Context(), st.DB(), class, id, eventClass, eventBytes, correlationID)
				if err != nil {
					return WrapExitError(ExitCommandError, "enqueue signal", err)
				}
				return formatterFor(cmd, opts).SuccessWithTrace(map[string]any{
					"seq": seq, "class": class, "id": id, "delayed": false, "correlationId": correlationID,
				}, correlationID)
			}

			fireAt, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return WrapExitError(ExitCommandError, "parse --at", err)
			}
			if fromClass == "" {
				fromClass = class
			}
			if fromID == "" {
				fromID = id
			}

			seq, err := st.Delayed.Insert(cmd.Context(), st.DB(), fromClass, fromID, class, id, eventClass, eventBytes, fireAt.UnixMilli(), correlationID)
			if err != nil {
				return WrapExitError(ExitCommandError, "schedule delayed signal", err)
			}
			return formatterFor(cmd, opts).SuccessWithTrace(map[string]any{
				"seq": seq, "class": class, "id": id, "delayed": true, "fireAt": fireAt.Format(time.RFC3339),
				"correlationId": correlationID,
			}, correlationID)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&class, "class", "", "target entity class")
	cmd.Flags().StringVar(&id, "id", "", "target entity id")
	cmd.Flags().StringVar(&eventClass, "event-class", "", "registered class name of the event payload")
	cmd.Flags().StringVar(&eventFile, "event-file", "", "path to the event's serialized bytes")
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 timestamp for delayed delivery (omit for immediate)")
	cmd.Flags().StringVar(&fromClass, "from-class", "", "cancellation-key class for a delayed signal (defaults to --class)")
	cmd.Flags().StringVar(&fromID, "from-id", "", "cancellation-key id for a delayed signal (defaults to --id)")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "correlation id to stamp on this signal (default: a fresh UUIDv7)")
	cmd.MarkFlagRequired("class")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("event-class")
	cmd.MarkFlagRequired("event-file")

	return cmd
}
