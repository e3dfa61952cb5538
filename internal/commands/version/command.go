package version

import (
	"fmt"
	"strings"

	"github.com/mitchellh/cli"
)

// Command prints the doomsdayd version and exits.
type Command struct {
	UI      cli.Ui
	Version string
}

func (c *Command) Help() string {
	helpText := `
Usage: doomsdayd version

  Prints the current version of doomsdayd.
`
	return strings.TrimSpace(helpText)
}

func (c *Command) Synopsis() string {
	return "Prints the version"
}

func (c *Command) Run(_ []string) int {
	c.UI.Output(fmt.Sprintf("doomsdayd %s", c.Version))
	return 0
}
