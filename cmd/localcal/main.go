package main

import (
	"os"

	"localcal/internal/cli"
	appLog "localcal/internal/log"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		appLog.Error("command failed", err)
		os.Exit(1)
	}
}
