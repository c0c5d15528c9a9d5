package main

import (
	_ "time/tzdata"

	"github.com/jmehdipour/outreach-scheduler/cmd"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cmd.Execute()
}
