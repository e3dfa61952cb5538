package server

import (
	"context"
	"flag"
	"io"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
)

type Command struct {
	UI     cli.Ui
	output io.Writer
	ctx    context.Context

	isTest bool

	flagConfigFile string
	flagLogLevel   string
	flagLogJSON    bool

	flagSet *flag.FlagSet
	once    sync.Once
}

// New returns a new server command.
func New(ctx context.Context, ui cli.Ui, logOutput io.Writer) *Command {
	return &Command{UI: ui, output: logOutput, ctx: ctx}
}

func (c *Command) init() {
	c.flagSet = flag.NewFlagSet("", flag.ContinueOnError)
	c.flagSet.StringVar(&c.flagConfigFile, "config-file", "", "Path to the doomsdayd YAML configuration file.")
	c.flagSet.StringVar(&c.flagLogLevel, "log-level", "info",
		"Log verbosity level. Supported values (in order of detail) are \"trace\", "+
			"\"debug\", \"info\", \"warn\", and \"error\".")
	c.flagSet.BoolVar(&c.flagLogJSON, "log-json", false,
		"Enable or disable JSON output format for logging.")
}

func (c *Command) Run(args []string) int {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return c.run(ctx, c.output, args)
}

// run is Run with the context and output writer made explicit, so tests
// can inject a cancellable context and capture log output without racing
// os.Stdout.
func (c *Command) run(ctx context.Context, output io.Writer, args []string) int {
	c.once.Do(c.init)
	c.flagSet.SetOutput(output)

	if err := c.flagSet.Parse(args); err != nil {
		return 1
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Level:           hclog.LevelFromString(c.flagLogLevel),
		Output:          output,
		JSONFormat:      c.flagLogJSON,
		IncludeLocation: true,
	}).Named("doomsdayd")

	if c.flagConfigFile == "" {
		logger.Error("-config-file is required")
		return 1
	}

	return RunServer(ServerConfig{
		Context:    ctx,
		Logger:     logger,
		ConfigFile: c.flagConfigFile,
		isTest:     c.isTest,
	})
}

func (c *Command) Synopsis() string {
	return "Starts the doomsdayd monitoring server"
}

func (c *Command) Help() string {
	return `
Usage: doomsdayd server [options]

  Starts the certificate monitoring server: loads the configured backends,
  runs the scheduler and notification dispatcher, and serves the HTTP API.
`
}
