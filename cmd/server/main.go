package main

import (
	"github.com/casetrail/backend/internal/server"
	"github.com/casetrail/backend/internal/util"
	"github.com/casetrail/backend/pkg/logger"
	"github.com/casetrail/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleBackend(console.ConsoleBackendParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
