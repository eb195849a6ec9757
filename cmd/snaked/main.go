package main

import (
	"log"
	"os"

	server "gridsnakes/server"
)

func main() {
	if err := server.Run(os.Args[1:]); err != nil {
		log.Fatalf("%v", err)
	}
}
