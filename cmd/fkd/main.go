package main

import (
	"fkd-backend/cmd/fkd/commands"
	"fkd-backend/lib/serviceutil"

	"github.com/joho/godotenv"
	_ "time/tzdata"
)

func main() {
	// .env is optional
	_ = godotenv.Load()
	commands.ExecuteContext(serviceutil.SignalContext())
}
