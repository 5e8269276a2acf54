package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	harmonizer "github.com/kgraph-ai/harmonizer"
	"github.com/kgraph-ai/harmonizer/canonicalstore"
	"github.com/kgraph-ai/harmonizer/ontology"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "OPENAI_API_KEY not set")
		os.Exit(1)
	}

	tmpDir, _ := os.MkdirTemp("", "harmonizer-e2e-*")
	defer os.RemoveAll(tmpDir)

	cfg := harmonizer.DefaultConfig()
	cfg.SQLitePath = tmpDir + "/test.db"
	cfg.StorageDir = tmpDir + "/blobs"
	cfg.Chat = harmonizer.LLMConfig{Provider: "openai", Model: "gpt-4o-mini", APIKey: apiKey}
	cfg.Embedding = harmonizer.LLMConfig{Provider: "openai", Model: "text-embedding-3-large", APIKey: apiKey}
	cfg.EmbeddingDim = 3072

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	engine, err := harmonizer.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close(context.Background())

	ontologyID := int64(1)
	if err := engine.RegisterDomainConfig(ctx, ontology.DomainConfig{
		ID:   ontologyID,
		Name: "legal",
		Schema: ontology.Schema{
			EntityTypes:   []string{"Party", "Term"},
			RelationTypes: []ontology.RelationType{{Name: "TERMINATES_ON"}},
		},
	}); err != nil {
		fmt.Fprintf(os.Stderr, "registering ontology: %v\n", err)
		os.Exit(1)
	}

	docPath := "data/corpus/cuad/ACCURAYINC_09_01_2010-EX-10.31-DISTRIBUTOR AGREEMENT.txt"
	fmt.Fprintf(os.Stderr, "\n=== SUBMITTING %s ===\n", docPath)
	documentBytes, err := os.ReadFile(docPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading document: %v\n", err)
		os.Exit(1)
	}

	docID, err := engine.Submit(ctx, documentBytes, docPath, ontologyID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Submitted doc_id=%d\n", docID)

	for {
		status, err := engine.GetStatus(ctx, docID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "status error: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "status=%s\n", status.Status)
		if status.Status == canonicalstore.StatusCompleted || status.Status == canonicalstore.StatusFailed {
			if status.Status == canonicalstore.StatusFailed {
				fmt.Fprintf(os.Stderr, "ingestion failed: %s\n", status.ErrorLog)
				os.Exit(1)
			}
			break
		}
		time.Sleep(2 * time.Second)
	}

	question := "What are the termination conditions in this agreement?"
	fmt.Fprintf(os.Stderr, "\n=== QUERYING: %s ===\n", question)
	result, err := engine.Query(ctx, question, 5, harmonizer.QueryModeHybrid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query error: %v\n", err)
		os.Exit(1)
	}

	var answer string
	for token := range result.Tokens {
		answer += token
	}
	fmt.Fprintf(os.Stderr, "\n=== ANSWER ===\n%s\n", answer)

	out, _ := json.MarshalIndent(result.Sources, "", "  ")
	fmt.Println(string(out))
}
