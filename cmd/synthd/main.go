package main

import (
	"log"

	"synthvault/services/synthd"
)

func main() {
	if err := synthd.Main(); err != nil {
		log.Fatalf("synthd: %v", err)
	}
}
