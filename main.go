package main

import (
	"os"

	"github.com/rcfcu2000/openclaw-wecom-kf/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
