package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	nl "github.com/khirono/go-tstnl"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&confPath, "config", "", "path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&logTimeFlag, "log-time", false, "include timestamps in the logs")
	rootCmd.PersistentFlags().IntVar(&waitTimeoutFlag, "wait-timeout", 0, "milliseconds to wait for a kernel reply")
	rootCmd.PersistentFlags().IntVar(&bufferSizeFlag, "buffer-size", 0, "initial size of the send buffer")
}

var (
	rootCmd = &cobra.Command{
		Use:   "nlprobe",
		Short: "Send rtnetlink requests and check the kernel's answers.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConf(cmd)
			if err != nil {
				return err
			}
			conf = c
			return setupLogging(conf)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Get the built version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("built commit: %s\n", builtCommit)
		},
	}

	confPath        string
	logLevelFlag    string
	logTimeFlag     bool
	waitTimeoutFlag int
	bufferSizeFlag  int

	conf        *Config
	builtCommit = "dev"
)

func init() {
	// Disable completion please!
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(linksCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(vethCmd)
	rootCmd.AddCommand(addrCmd)
	rootCmd.AddCommand(monitorCmd)
}

// loadConf reads the configuration file, if any, and applies the flags
// given on the command line on top of it.
func loadConf(cmd *cobra.Command) (*Config, error) {
	c := defaultConfig()
	if confPath != "" {
		var err error
		c, err = ReadConf(confPath)
		if err != nil {
			return nil, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.LogLevel = logLevelFlag
	}
	if flags.Changed("log-time") {
		c.LogTime = logTimeFlag
	}
	if flags.Changed("wait-timeout") {
		c.WaitTimeout = waitTimeoutFlag
	}
	if flags.Changed("buffer-size") {
		c.BufferSize = bufferSizeFlag
	}
	return c, c.Validate()
}

func setupLogging(c *Config) error {
	level, ok := logLevelMap[c.LogLevel]
	if !ok {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	logTimeFlag = c.LogTime
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		AddSource:   level == slog.LevelDebug,
		Level:       level,
		ReplaceAttr: logReplacements,
	}))
	slog.SetDefault(logger)
	slog.Debug("loaded configuration", "path", confPath, "waitTimeout", c.WaitTimeout, "bufferSize", c.BufferSize)
	return nil
}

func newRouteContext(opts ...nl.Option) (*nl.Context, error) {
	opts = append([]nl.Option{
		nl.WithLogger(slog.Default()),
		nl.WithBufferSize(conf.BufferSize),
		nl.WithWaitTimeout(time.Duration(conf.WaitTimeout) * time.Millisecond),
	}, opts...)
	return nl.NewContext(unix.NETLINK_ROUTE, opts...)
}

// reportError prints err and returns the exit status for it: 2 when the
// kernel rejected a request, 1 for anything else.
func reportError(err error) int {
	if errno := nl.Errno(err); errno != 0 {
		fmt.Fprintf(os.Stderr, "%v (%s)\n", err, unix.ErrnoName(errno))
		return 2
	}
	fmt.Fprintf(os.Stderr, "%+v\n", err)
	return 1
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(reportError(err))
	}
}
