package main

import (
	"github.com/tesselab/ariadne/internal/server"
	"github.com/tesselab/ariadne/internal/util"
	"github.com/tesselab/ariadne/pkg/logger"
	"github.com/tesselab/ariadne/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
