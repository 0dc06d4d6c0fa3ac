package cmds

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-delve/sdb/cmd/sdb/cmds/helphelpers"
	"github.com/go-delve/sdb/pkg/client"
	"github.com/go-delve/sdb/pkg/config"
	"github.com/go-delve/sdb/pkg/logflags"
	sdbtls "github.com/go-delve/sdb/pkg/tls"
	"github.com/go-delve/sdb/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// configPath is the configuration file, ~/.sdb/config.yml when empty.
	configPath string
	// addr is the console server listen address.
	addr string

	// connect options
	username  string
	password  string
	useTLS    bool
	tlsCAFile string
	tlsCert   string
	tlsKey    string
	noColor   bool

	// verbose makes 'sdb version' print the build info.
	verbose bool

	// saveConfig is where 'sdb config' writes the effective configuration.
	saveConfig string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command
)

const dialTimeout = 10 * time.Second

const sdbCommandLongDesc = `Sdb is a debugger console for programs built on the coro task runtime.

A program embedding the console serves it over a WebSocket. Operators connect,
list the live coroutines, attach to one, step through its checkpoints, inspect
bound variables and evaluate expressions, all without stopping the process.

'sdb demo' starts a sample workload with a console, 'sdb connect' attaches an
interactive terminal to any console.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Main sdb root command.
	rootCommand = &cobra.Command{
		Use:   "sdb",
		Short: "Sdb is a debugger console for coroutine based Go services.",
		Long:  sdbCommandLongDesc,
	}

	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file, yaml or toml (default ~/.sdb/config.yml).")
	rootCommand.PersistentFlags().StringVarP(&addr, "listen", "l", config.DefaultListen, "Console server listen address.")

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugging server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'sdb help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'sdb help log').")

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if !docCall {
			helphelpers.Prepare(cmd)
		}
		defaultHelp(cmd, args)
	})

	// 'demo' subcommand.
	demoCommand := &cobra.Command{
		Use:   "demo",
		Short: "Run a sample workload with a debugger console.",
		Long: `Starts a few coroutines that process fake orders through fake connection
pools, plus cron driven jobs, and serves the debugger console for them.

Connect to it with 'sdb connect'.`,
		Run: demoCmd,
	}
	rootCommand.AddCommand(demoCommand)

	// 'connect' subcommand.
	connectCommand := &cobra.Command{
		Use:   "connect addr",
		Short: "Connect to a debugger console.",
		Long: `Connect to a running debugger console.

An empty line repeats the last command. Type 'exit' or press Ctrl-D to leave,
the coroutines of the target keep running.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide an address as the first argument")
			}
			return nil
		},
		Run: connectCmd,
	}
	connectCommand.Flags().StringVarP(&username, "username", "u", "", "Basic authentication user (default from the configuration).")
	connectCommand.Flags().StringVar(&password, "password", "", "Basic authentication password.")
	connectCommand.Flags().BoolVar(&useTLS, "tls", false, "Connect with TLS (wss).")
	connectCommand.Flags().StringVar(&tlsCAFile, "tls-ca", "", "CA used to verify the server certificate, implies --tls.")
	connectCommand.Flags().StringVar(&tlsCert, "tls-cert", "", "Client certificate, implies --tls.")
	connectCommand.Flags().StringVar(&tlsKey, "tls-key", "", "Client certificate key.")
	connectCommand.Flags().BoolVar(&noColor, "no-color", false, "Do not ask the server for highlighted output.")
	rootCommand.AddCommand(connectCommand)

	// 'config' subcommand.
	configCommand := &cobra.Command{
		Use:   "config",
		Short: "Prints the default configuration file.",
		Long: `Prints the default configuration file, with every option commented out.

With --save the effective configuration (defaults, then the file, then the
environment, then flags) is written to the given yaml or toml file instead.`,
		RunE: configCmd,
	}
	configCommand.Flags().StringVar(&saveConfig, "save", "", "Write the effective configuration to this file.")
	rootCommand.AddCommand(configCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Sdb Debugger\n%s\n", version.SdbVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	debugger	Log attach, step, break-point and kill operations
	console		Log console connections and commands
	coro		Log coroutine lifecycle
	eval		Log expression evaluation
	demo		Log the sample workload of 'sdb demo'

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the "console listening at" message of
'sdb demo'.

`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// loadConfig builds the effective configuration: defaults, the file, the
// environment and finally the flags set on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		conf.Listen = addr
	}
	return conf, conf.Validate()
}

func configCmd(cmd *cobra.Command, args []string) error {
	if saveConfig == "" {
		fmt.Fprint(cmd.OutOrStdout(), config.DefaultConfigFile())
		return nil
	}
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := config.SaveConfig(conf, saveConfig); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", saveConfig)
	return nil
}

func connectCmd(cmd *cobra.Command, args []string) {
	os.Exit(connect(cmd, args[0]))
}

func connect(cmd *cobra.Command, addr string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	conf, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	cc, err := clientConfig(conf, addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, err := client.Dial(ctx, cc)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to %s: %v\n", addr, err)
		return 1
	}
	term := client.New(conn, conf.Aliases)
	status, err := term.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return status
}

// clientConfig returns the dial options of 'sdb connect'. Credentials given
// on the command line win over the configured ones.
func clientConfig(conf *config.Config, addr string) (*client.Config, error) {
	cc := &client.Config{
		Addr:     addr,
		Username: username,
		Password: password,
		Color:    !noColor && client.Stdout(),
	}
	if cc.Username == "" && conf.Auth.Enabled {
		cc.Username, cc.Password = conf.Auth.Username, conf.Auth.Password
	}
	if useTLS || tlsCAFile != "" || tlsCert != "" {
		tc, err := sdbtls.ClientConfig(tlsCAFile, tlsCert, tlsKey)
		if err != nil {
			return nil, err
		}
		cc.TLS = tc
	}
	return cc, nil
}
