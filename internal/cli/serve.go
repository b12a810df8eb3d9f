package cli

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/durocore/duro/examples/basket"
	"github.com/durocore/duro/examples/order"
	"github.com/durocore/duro/internal/behavior"
	"github.com/durocore/duro/internal/codec"
	"github.com/durocore/duro/internal/runtime"
	"github.com/durocore/duro/internal/telemetry"
)

// seedConfig is the YAML shape `duro serve --seed` loads: a list of
// signals to publish once, right after Initialize, useful for demoing the
// Basket/Order fixtures without a separate signal call per entity.
type seedConfig struct {
	Signals []seedSignal `yaml:"signals"`
}

type seedSignal struct {
	Class   string         `yaml:"class"`
	ID      string         `yaml:"id"`
	Event   string         `yaml:"event"`
	Payload map[string]any `yaml:"payload"`
}

// NewServeCommand implements `duro serve`: boots the runtime with the
// bundled Basket/Order example Behaviors, recovers in-flight work, applies
// any seed signals, and blocks draining until SIGINT/SIGTERM, mirroring
// the teacher's run.go graceful-shutdown loop.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	flags := &dbFlags{}
	var seedPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the drain loop against the bundled Basket/Order example",
		RunE: func(cmd *cobra.Command, args []string) error {
			telemetry.SetDefault(telemetry.New(opts.Verbose))

			entitySerializer := codec.NewJSONSerializer()
			entitySerializer.Register(basket.Class, func() any { return new(basket.Basket) })
			entitySerializer.Register(order.Class, func() any { return new(order.Order) })

			eventSerializer := codec.NewJSONSerializer()
			eventSerializer.Register(codec.ClassName(basket.Change{}), func() any { return new(basket.Change) })
			eventSerializer.Register(codec.ClassName(basket.Clear{}), func() any { return new(basket.Clear) })
			eventSerializer.Register(codec.ClassName(basket.Checkout{}), func() any { return new(basket.Checkout) })
			eventSerializer.Register(codec.ClassName(basket.Payment{}), func() any { return new(basket.Payment) })
			eventSerializer.Register(codec.ClassName(basket.Timeout{}), func() any { return new(basket.Timeout) })
			eventSerializer.Register(codec.ClassName(order.Placed{}), func() any { return new(order.Placed) })
			eventSerializer.Register(codec.ClassName(behavior.CancelTimedSignal{}), func() any { return new(behavior.CancelTimedSignal) })

			rt, err := runtime.Build(
				runtime.WithDatabase(flags.driver, flags.dsn),
				runtime.WithSerializers(entitySerializer, eventSerializer),
				runtime.WithBehaviors(behavior.MapFactory{
					basket.Class: basket.Behavior{},
					order.Class:  order.Behavior{},
				}),
			)
			if err != nil {
				return WrapExitError(ExitCommandError, "build runtime", err)
			}
			defer rt.Close()

			if err := rt.Bootstrap(cmd.Context()); err != nil {
				return WrapExitError(ExitCommandError, "bootstrap schema", err)
			}
			if err := rt.Initialize(cmd.Context()); err != nil {
				return WrapExitError(ExitCommandError, "recover in-flight work", err)
			}

			if seedPath != "" {
				if err := applySeed(cmd, rt, eventSerializer, seedPath); err != nil {
					return WrapExitError(ExitCommandError, "apply seed", err)
				}
			}

			formatterFor(cmd, opts).VerboseLog("serving %s (driver %s)", flags.dsn, flags.driver)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&seedPath, "seed", "", "path to a YAML seed-signal file")
	return cmd
}

// eventTypes maps a seed signal's "event" name to the Go type registered
// for it, so the YAML payload map can be JSON round-tripped into the
// concrete struct before publishing. Kept local to serve.go: the seed
// format is a demo convenience, not part of the runtime's public wire
// format, which treats event bytes as opaque per the FSM Adapter's
// contract.
var eventTypes = map[string]func() behavior.Event{
	"Change":   func() behavior.Event { return &basket.Change{} },
	"Clear":    func() behavior.Event { return &basket.Clear{} },
	"Checkout": func() behavior.Event { return &basket.Checkout{} },
	"Payment":  func() behavior.Event { return &basket.Payment{} },
	"Timeout":  func() behavior.Event { return &basket.Timeout{} },
}

func applySeed(cmd *cobra.Command, rt *runtime.Runtime, eventSerializer codec.Serializer, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var cfg seedConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return err
	}

	for _, s := range cfg.Signals {
		factory, ok := eventTypes[s.Event]
		if !ok {
			return &unknownSeedEventError{event: s.Event}
		}
		event := factory()

		payload, err := json.Marshal(s.Payload)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(payload, event); err != nil {
			return err
		}

		if _, err := rt.Signal(cmd.Context(), s.Class, s.ID, event); err != nil {
			return err
		}
	}
	return nil
}

type unknownSeedEventError struct{ event string }

func (e *unknownSeedEventError) Error() string {
	return "serve: unknown seed event type " + e.event
}
