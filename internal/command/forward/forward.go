package forward

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cmdflags "vrnode/internal/command/flags"
	"vrnode/internal/config"
	"vrnode/pkg/errors"
	"vrnode/pkg/flags"
	"vrnode/pkg/forward"
	"vrnode/pkg/log"
)

func NewCommand(cfg *config.Config) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "forward",
		Short: "Relay container ports to the device's loopback forwards",
		PreRunE: func(c *cobra.Command, _ []string) error {
			flags.BindCommandToViper(c)

			return nil
		},
		RunE: func(c *cobra.Command, _ []string) error {
			rules, err := Rules(cfg.Forward.Rules)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.GetLogger(ctx).Infof("Forwarding %d rules", len(rules))

			relay := forward.NewRelay(rules, forward.Config{
				ListenHost: cfg.Forward.ListenHost,
				UDPIdle:    cfg.Forward.UDPIdle,
			})

			return relay.Listen(ctx)
		},
	}

	cmdflags.AddForwardFlagsToCommand(cmd, cfg)

	return cmd, nil
}

// Rules parses every --rule value; at least one is required.
func Rules(values []string) ([]forward.Rule, error) {
	if len(values) == 0 {
		return nil, errors.UserInputError{Field: "rule", Reason: "at least one rule is required"}
	}

	rules := make([]forward.Rule, 0, len(values))

	for _, v := range values {
		r, err := forward.ParseRule(v)
		if err != nil {
			return nil, err
		}

		rules = append(rules, r)
	}

	return rules, nil
}
