package main

import (
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/client"
)

func main() {
	// Default to a higher log level: logs are written to the FPVM's stdout
	// file descriptor and every byte costs proof cycles.
	logger := log.NewLogger(log.LogfmtHandlerWithLevel(os.Stdout, log.LevelInfo))
	client.Main(logger)
}
