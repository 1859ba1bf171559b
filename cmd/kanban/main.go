package main

import (
	"flag"
	"os"

	"kyri56xcaesar/pms-kanban/internal/logger"
	"kyri56xcaesar/pms-kanban/internal/server"
)

func main() {
	confPath := flag.String("config", "configs/kanban.env", "path to the env config file")
	flag.Parse()

	if err := server.InitAndServe(*confPath); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
