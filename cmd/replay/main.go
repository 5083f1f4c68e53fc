package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	persistlog "temporalsmith.dev/internal/persistence/log"
	"temporalsmith.dev/internal/persistence/snapshot"
	"temporalsmith.dev/internal/recipe/serializers"
	"temporalsmith.dev/internal/sim/catalogs"
	"temporalsmith.dev/internal/transport/ws"
)

// replay inspects what the server persisted: a book snapshot is verified and
// decoded recipe by recipe, reload logs are listed and checked against the
// snapshots beside them.
func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to a .book.zst (or a directory: newest snapshot in it)")
		reloadsDir = flag.String("reloads", "", "directory of reloads-*.jsonl.zst (optional)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dump       = flag.String("dump", "", "print the persisted JSON of this recipe id")
	)
	flag.Parse()

	if *snapPath == "" && *reloadsDir == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot or -reloads")
		os.Exit(2)
	}

	var snap *snapshot.BookV1
	if *snapPath != "" {
		s, err := verifySnapshot(*snapPath, *configDir, *dump)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		snap = &s
	}

	if *reloadsDir == "" {
		return
	}
	entries, err := readReloads(*reloadsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read reloads:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		mark := ""
		if snap != nil && e.ReloadID == snap.Header.ReloadID {
			if e.Digest != snap.Header.Digest {
				fmt.Fprintf(os.Stderr, "reload %s: logged digest %s, snapshot has %s\n", e.ReloadID, e.Digest, snap.Header.Digest)
				os.Exit(1)
			}
			mark = " (snapshot)"
		}
		fmt.Printf("%s %s loaded=%d failures=%d digest=%.12s%s\n",
			e.FinishedAt.Format("2006-01-02T15:04:05Z"), e.ReloadID, e.Loaded, len(e.Failures), e.Digest, mark)
		for _, f := range e.Failures {
			fmt.Printf("  %s: %s\n", f.ID, f.Error)
		}
	}
}

func verifySnapshot(path, configDir, dump string) (snapshot.BookV1, error) {
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		latest, err := snapshot.Latest(path)
		if err != nil {
			return snapshot.BookV1{}, err
		}
		if latest == "" {
			return snapshot.BookV1{}, fmt.Errorf("no snapshot in %s", path)
		}
		path = latest
	}
	snap, err := snapshot.ReadBook(path)
	if err != nil {
		return snap, fmt.Errorf("read snapshot: %w", err)
	}
	h := snap.Header
	fmt.Printf("snapshot v%d reload=%s created=%s recipes=%d failures=%d digest=%s\n",
		h.Version, h.ReloadID, h.CreatedAt.Format("2006-01-02T15:04:05Z"), h.Count, h.Failures, h.Digest)

	cats, err := catalogs.Load(configDir)
	if err != nil {
		return snap, fmt.Errorf("load catalogs: %w", err)
	}
	tab, err := serializers.Builtin()
	if err != nil {
		return snap, err
	}
	if h.ItemPaletteDigest != cats.Items.Digest() || h.SerializersDigest != tab.Digest() {
		return snap, fmt.Errorf("snapshot was written against other palettes; -configs must match the server's")
	}

	// Same check a sync client runs on a pushed book.
	recipes, err := ws.DecodeBook(snap.Frame(), tab, cats)
	if err != nil {
		return snap, err
	}
	if len(recipes) != h.Count {
		return snap, fmt.Errorf("header says %d recipes, body has %d", h.Count, len(recipes))
	}

	kinds := map[string]int{}
	for _, r := range recipes {
		kinds[string(r.Recipe.Kind())]++
		if r.ID == dump {
			b, err := r.Recipe.EncodeJSON()
			if err != nil {
				return snap, err
			}
			fmt.Println(string(b))
		}
	}
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Printf("  %-45s %d\n", k, kinds[k])
	}
	for _, f := range snap.Failures {
		fmt.Printf("  failed %s: %s\n", f.ID, f.Error)
	}
	fmt.Println("ok")
	return snap, nil
}

func readReloads(dir string) ([]persistlog.ReloadEntry, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "reloads-") || !strings.HasSuffix(e.Name(), ".jsonl.zst") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	var out []persistlog.ReloadEntry
	for _, p := range files {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		sc := bufio.NewScanner(zr)
		sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for sc.Scan() {
			var e persistlog.ReloadEntry
			if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
				zr.Close()
				f.Close()
				return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
			}
			out = append(out, e)
		}
		err = sc.Err()
		zr.Close()
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
