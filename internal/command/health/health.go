package health

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"vrnode/internal/config"
	"vrnode/pkg/defaults"
	"vrnode/pkg/flags"
	"vrnode/pkg/health"
)

func NewCommand(cfg *config.Config) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Print the device health and exit with its code",
		PreRunE: func(c *cobra.Command, _ []string) error {
			flags.BindCommandToViper(c)

			return nil
		},
		Run: func(c *cobra.Command, _ []string) {
			os.Exit(Check(afero.NewOsFs(), cfg.HealthFile, c.OutOrStdout()))
		},
	}

	cmd.Flags().StringVar(&cfg.HealthFile, "health-file", defaults.HealthFile, "The published health record.")

	return cmd, nil
}

// Check prints the health message to w and returns the exit code.
func Check(fs afero.Fs, path string, w io.Writer) int {
	code, msg := health.Check(fs, path)
	fmt.Fprintln(w, msg)

	return code
}
