//go:build ignore

// Package main fills a SQLite source table with synthetic book records for
// benchmarking imports and sync.
// Usage: go run scripts/generate-source.go -records 100000 -db testdata/bench/app.db
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Aman-CERP/indexsync/internal/store"
)

var (
	numRecords = flag.Int("records", 10000, "Number of records to generate")
	dbPath     = flag.String("db", "testdata/bench/app.db", "Source database path")
	table      = flag.String("table", "books", "Source table")
	seed       = flag.Int64("seed", 42, "Random seed for reproducibility")
	deleted    = flag.Float64("deleted", 0.02, "Fraction of records to soft delete")
)

// Word pools for generating realistic titles
var (
	adjectives = []string{
		"Silent", "Hidden", "Broken", "Golden", "Last",
		"Distant", "Crimson", "Forgotten", "Endless", "Quiet",
		"Burning", "Frozen", "Lost", "Wild", "Hollow",
	}
	nouns = []string{
		"River", "Empire", "Garden", "Machine", "Harbor",
		"Winter", "Kingdom", "Signal", "Archive", "Orchard",
		"Tower", "Desert", "Voyage", "Library", "Frontier",
	}
	authors = []string{
		"Austen", "Herbert", "Le Guin", "Morrison", "Tolkien",
		"Achebe", "Borges", "Calvino", "Murakami", "Woolf",
		"Dostoevsky", "Atwood", "Pratchett", "Orwell", "Shelley",
	}
)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
		os.Exit(1)
	}
	db, err := store.OpenSQLite(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	src, err := store.NewSQLiteSource(db, *table)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating source: %v\n", err)
		os.Exit(1)
	}
	if err := src.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating schema: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generating %s records in %s.%s\n", humanize.Comma(int64(*numRecords)), *dbPath, *table)
	start := time.Now()
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	var softDeleted []string
	for i := 1; i <= *numRecords; i++ {
		id := fmt.Sprint(i)
		at := base.Add(time.Duration(rng.Int63n(int64(5 * 365 * 24 * time.Hour))))
		record := map[string]any{
			"title":     fmt.Sprintf("The %s %s", pick(rng, adjectives), pick(rng, nouns)),
			"author":    pick(rng, authors),
			"pages":     80 + rng.Intn(900),
			"published": 1800 + rng.Intn(225),
		}
		if err := src.PutAt(ctx, id, record, at); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing record %s: %v\n", id, err)
			os.Exit(1)
		}
		if rng.Float64() < *deleted {
			softDeleted = append(softDeleted, id)
		}
		if i%10000 == 0 {
			fmt.Printf("  %s records...\n", humanize.Comma(int64(i)))
		}
	}

	if len(softDeleted) > 0 {
		if err := src.SoftDelete(ctx, softDeleted...); err != nil {
			fmt.Fprintf(os.Stderr, "Error soft deleting records: %v\n", err)
			os.Exit(1)
		}
	}

	info, err := os.Stat(*dbPath)
	size := "unknown size"
	if err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	fmt.Printf("Generated %s records (%s soft deleted, %s) in %s.\n",
		humanize.Comma(int64(*numRecords)), humanize.Comma(int64(len(softDeleted))), size,
		time.Since(start).Round(time.Millisecond))
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}
