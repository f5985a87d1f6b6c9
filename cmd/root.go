package cmd

import (
	"fmt"
	"os"
	"strings"

	"klinelog/internal/cmd/root"
	"klinelog/internal/config"
	"klinelog/internal/obd"
	"klinelog/internal/obd/serial"
	"klinelog/pkg/log"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "klinelog",
	Short: "K-line live data logger",
	Args:  cobra.NoArgs,
	Run:   root.Run,
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)

	global := rootCmd.PersistentFlags()
	global.String("config", "", "YAML config file")
	global.Bool("debug", false, "Enable debug mode")
	global.Bool("mock", false, "Use the simulated ECU")
	global.String("port", "", "Serial port (default: find the adapter by VID/PID)")
	global.String("vid", serial.DefaultVID, "USB vendor id of the adapter")
	global.String("pid", serial.DefaultPID, "USB product id of the adapter")
	global.String("listen", "", "Serve the live feed on this address, e.g. :8080")

	local := rootCmd.Flags()
	local.Int("baud", obd.BaudRate, "K-line baud rate")
	local.String("protocol", "fast", "Wake-up sequence: fast or slow")
	local.String("target", "engine", "Fast-init target: engine or abs")
	local.String("address", fmt.Sprintf("0x%02X", obd.DefaultAddress), "Slow-init target address")
	local.Uint("max-attempts", obd.DefaultMaxAttempts, "Fast-init attempts before giving up")
	local.Duration("attempt-delay", obd.DefaultAttemptDelay, "Pause between fast-init attempts")
	local.Duration("request-delay", obd.DefaultRequestDelay, "Pause before every request")
	local.Duration("read-timeout", obd.DefaultReadTimeout, "Response read timeout")
	local.String("log-dir", ".", "Directory for the session log files")
	local.Bool("archive", false, "Also write a CBOR archive of every record")
	local.StringSlice("groups", nil, "Polling groups (default: all)")
	local.Int("cycles", 0, "Stop after this many cycles (0: run until interrupted)")

	global.VisitAll(bindFlag)
	local.VisitAll(bindFlag)

	// Set default values
	config.SetDefaults(viper.GetViper())
}

func bindFlag(f *pflag.Flag) {
	if err := viper.BindPFlag(f.Name, f); err != nil {
		panic(err)
	}
}

func initConfig() {
	viper.SetEnvPrefix("KLINELOG")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read config %s: %v\n", path, err)
			os.Exit(1)
		}
	}
}

func initLogger() {
	log.InitLogger(viper.GetBool("debug"))
	if f := viper.ConfigFileUsed(); f != "" {
		log.Debug("config file loaded", zap.String("path", f))
	}
}

func Execute() {
	defer log.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
