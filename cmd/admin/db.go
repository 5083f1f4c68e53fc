package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"temporalsmith.dev/internal/persistence/indexdb"
)

// dbCmd answers read-only queries against the recipe index:
// reloads, failures and recipes.
func dbCmd(q string, args []string) {
	fs := flag.NewFlagSet(q, flag.ExitOnError)
	dataDir := fs.String("data", "./var", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	reloadID := fs.String("reload", "", "reload id (optional; defaults to latest)")
	result := fs.String("result", "", "result item filter (recipes)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "recipes.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if q != "reloads" && strings.TrimSpace(*reloadID) == "" {
		id, err := indexdb.LatestReloadID(db)
		if err != nil {
			fmt.Fprintln(os.Stderr, "latest reload:", err)
			os.Exit(1)
		}
		if id == "" {
			fmt.Fprintln(os.Stderr, "no reloads found")
			os.Exit(2)
		}
		*reloadID = id
	}

	switch q {
	case "reloads":
		if *limit <= 0 {
			*limit = 20
		}
		rows, err := indexdb.Reloads(db, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range rows {
			printJSON(r)
		}
	case "failures":
		rows, err := indexdb.Failures(db, *reloadID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range rows {
			printJSON(r)
		}
	case "recipes":
		rows, err := indexdb.Recipes(db, *reloadID, strings.TrimSpace(*result))
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range rows {
			printJSON(r)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		os.Exit(2)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
