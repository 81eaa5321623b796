package main

import (
	"os"

	"github.com/liapostsk/aeghis-sync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
