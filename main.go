package main

import (
	"log"

	"github.com/slack-go/slack"
)

func main() {
	cfg := LoadConfig()

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	records, err := GetLocations(db)
	if err != nil {
		log.Fatalf("Failed to load locations: %v", err)
	}
	locations := NewLocationResolver(cfg.LocationNicknamePath)
	locations.Initialize(records)

	llm := NewCompletions(cfg)
	pipeline := NewPipeline(cfg, db, llm, locations)

	var api *slack.Client
	if cfg.SlackBotToken != "" {
		api = slack.New(cfg.SlackBotToken)
	}
	StartDigestScheduler(cfg, db, api, locations)

	log.Println("Starting sales analytics chat service...")
	if err := StartServer(cfg, pipeline); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
}
