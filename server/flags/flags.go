package flags

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gammadia/blockpool/config"
	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ConfigFile = "config"
	LogFormat  = "log-format"
	LogLevel   = "log-level"
	LogSource  = "log-source"
	Once       = "once"
)

func init() {
	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	// Daemon
	flags.String(ConfigFile, "", "yaml file holding the options, overridden by flags and environment")
	flags.String(LogFormat, "json", "log format (json, text)")
	flags.String(LogLevel, "INFO", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")
	flags.Bool(Once, false, "initialize the blocks, run a single poll and exit")

	// Blocks, state and backends
	config.AddFlags(flags)

	// Init
	if err := flags.Parse(os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(flags))

	if file := viper.GetString(ConfigFile); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read config file: %v\n", err)
			os.Exit(1)
		}
	}
}
