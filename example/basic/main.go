package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/tky-kevin/travelkb"
	"github.com/tky-kevin/travelkb/helper"
	"github.com/tky-kevin/travelkb/model"
)

// Crawls the three freshest articles of a sitemap into a throwaway pgvector
// container with local embeddings and runs one query against them.
func main() {
	target := "https://bunnyann.tw/post-sitemap.xml"
	if len(os.Args) > 1 {
		target = os.Args[1]
	}

	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	config := travelkb.DefaultConfig()
	config.Database = helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		Database: "database",
		Username: "user",
		Password: "password",
		Schema:   "public",
		SSLMode:  "disable",
	}
	// Local sentence transformer, no API key needed
	config.Embedding.Provider = model.EmbeddingProviderHugot

	ctx := context.Background()
	kb, err := travelkb.NewKnowledgeBase(ctx, config)
	if err != nil {
		log.Fatalf("Failed to create knowledge base: %v", err)
	}
	defer kb.Close()

	fmt.Printf("Crawling %s...\n", target)
	result := kb.CrawlAndIndex(ctx, target, 3)
	fmt.Printf("%s (success: %v)\n", result.Message, result.Success)

	queryText := "What should I eat in Osaka?"
	fmt.Printf("\nQuerying: %s\n", queryText)

	results, err := kb.Retrieve(ctx, queryText, 3)
	if err != nil {
		log.Fatalf("Failed to search: %v", err)
	}

	fmt.Printf("Found %d results:\n", len(results))
	for i, r := range results {
		fmt.Printf("\n%d. %s (score: %.4f)\n   %s\n", i+1, r.Title, r.Score, r.URL)
	}
}
