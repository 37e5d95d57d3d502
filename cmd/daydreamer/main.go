// Package main is the entry point for the daydreamer memory gateway.
package main

import (
	"os"

	"github.com/daydreamer-ai/daydreamer-memory/cmd/daydreamer/app"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
