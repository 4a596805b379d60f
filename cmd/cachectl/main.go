package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("cachectl exited with error", "error", err)
		os.Exit(1)
	}
}
