package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/sitebuilder/cmd/sitebuilder/commands"
	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/version"
)

func main() {
	cli := &commands.CLI{}
	ctx := kong.Parse(cli,
		kong.Name("sitebuilder"),
		kong.Description("Generate small-business websites from wizard answers"),
		kong.UsageOnError(),
		kong.Vars{"version": version.Version},
	)
	if err := ctx.Run(&commands.Global{}, cli); err != nil {
		adapter := derrors.NewCLIErrorAdapter(cli.Verbose)
		fmt.Fprintln(os.Stderr, adapter.FormatError(err))
		os.Exit(adapter.ExitCodeFor(err))
	}
}
