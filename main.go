package main

import (
	"log"

	"github.com/fluxfret/cascade/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
