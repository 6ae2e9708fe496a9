package main

import (
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/client/interop"
)

func main() {
	logger := log.NewLogger(log.LogfmtHandlerWithLevel(os.Stdout, log.LevelInfo))
	interop.Main(logger)
}
