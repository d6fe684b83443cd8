package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/trezcool/hadiri/core/session"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	db       *sql.DB
	sessRepo session.Repository
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run database migrations (goose commands)")
	fmt.Println("  endsessions [-older-than DURATION] - end sessions left active past the given age")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	endSessionsCmd := flag.NewFlagSet("endsessions", flag.ExitOnError)
	endSessionsAge := endSessionsCmd.Duration("older-than", 24*time.Hour, "End active sessions older than this.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "endsessions":
		if err := endSessionsCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.endSessions(*endSessionsAge)
	default:
		cli.printUsage()
		return errHelp
	}
}
