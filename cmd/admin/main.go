package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"temporalsmith.dev/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			q := "reloads"
			args := os.Args[2:]
			if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
				q, args = args[0], args[1:]
			}
			dbCmd(q, args)
			return
		case "reloads", "failures", "recipes":
			dbCmd(os.Args[1], os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "reload":
			reloadCmd(os.Args[2:])
			return
		case "prune":
			pruneCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the book snapshots on disk, newest first.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./var", "runtime data directory")
	_ = fs.Parse(args)

	dir := filepath.Join(*dataDir, "books")
	ents, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	var hs []snapshot.Header
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshot.Ext) {
			continue
		}
		h, err := snapshot.ReadHeader(filepath.Join(dir, e.Name()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", e.Name(), err)
			continue
		}
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i].CreatedAt.After(hs[j].CreatedAt) })
	for _, h := range hs {
		fmt.Printf("%s %s recipes=%d failures=%d digest=%.12s\n",
			h.CreatedAt.Format("2006-01-02T15:04:05Z"), h.ReloadID, h.Count, h.Failures, h.Digest)
	}
}

// pruneCmd removes all but the newest snapshots; the server does the same
// after each reload when reload.keep_reports is set.
func pruneCmd(args []string) {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	dataDir := fs.String("data", "./var", "runtime data directory")
	keep := fs.Int("keep", 16, "snapshots to keep")
	_ = fs.Parse(args)

	if *keep <= 0 {
		fmt.Fprintln(os.Stderr, "-keep must be > 0")
		os.Exit(2)
	}
	n, err := snapshot.Prune(filepath.Join(*dataDir, "books"), *keep)
	if err != nil {
		fmt.Fprintln(os.Stderr, "prune:", err)
		os.Exit(1)
	}
	fmt.Printf("removed %d snapshots\n", n)
}
