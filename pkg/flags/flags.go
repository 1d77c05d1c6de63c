package flags

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BindCommandToViper binds every flag of the command to viper so that an
// environment variable can stand in for a flag that was not set explicitly.
func BindCommandToViper(cmd *cobra.Command) {
	bindFlagsToViper(cmd.PersistentFlags())
	bindFlagsToViper(cmd.Flags())
}

func bindFlagsToViper(fs *pflag.FlagSet) {
	fs.VisitAll(func(flag *pflag.Flag) {
		_ = viper.BindPFlag(flag.Name, flag)
		_ = viper.BindEnv(flag.Name)

		if !flag.Changed && viper.IsSet(flag.Name) {
			val := viper.Get(flag.Name)
			_ = fs.Set(flag.Name, valueString(flag, val))
		}
	})
}

// valueString renders a viper value in the form pflag expects. Slice flags
// read from the environment arrive as a single string, which pflag splits on
// commas itself.
func valueString(flag *pflag.Flag, val interface{}) string {
	if items, ok := val.([]interface{}); ok && flag.Value.Type() == "stringSlice" {
		out := ""

		for i, item := range items {
			if i > 0 {
				out += ","
			}

			out += fmt.Sprintf("%v", item)
		}

		return out
	}

	return fmt.Sprintf("%v", val)
}
