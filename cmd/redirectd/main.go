package main

import (
	"flag"
	"log"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	if err := runServer(*configPath); err != nil {
		log.Fatalf("redirectd: %v", err)
	}
}
