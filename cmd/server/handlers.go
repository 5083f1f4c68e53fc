package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"temporalsmith.dev/internal/persistence/indexdb"
	"temporalsmith.dev/internal/recipe/book"
	"temporalsmith.dev/internal/viewer"
	"temporalsmith.dev/internal/worldgen/ores"
)

type routeOptions struct {
	Admin bool
	Pprof bool
}

func (rt *runtime) routes(opt routeOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if rt.mgr.Book() == nil {
			http.Error(rw, "no recipe book", http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", rt.metrics)
	mux.HandleFunc("/v1/ws", rt.sync.Handler())

	views := viewer.NewHandlers(rt.mgr, rt.views, rt.log)
	mux.HandleFunc("/v1/recipes", views.List())
	mux.HandleFunc("/v1/recipes/layout", views.Layout())
	mux.HandleFunc("/v1/ores", rt.oreTable)
	mux.HandleFunc("/v1/ores/preview", rt.orePreview)

	if opt.Admin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", loopbackOnly(rt.adminState))
		mux.HandleFunc("/admin/v1/reload", loopbackOnly(rt.adminReload))
	} else {
		rt.log.Printf("admin endpoints disabled (TS_ENABLE_ADMIN_HTTP=false)")
	}
	if opt.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		rt.log.Printf("pprof endpoints disabled (TS_ENABLE_PPROF_HTTP=false)")
	}
	return mux
}

func (rt *runtime) metrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	recipes, failures := 0, 0
	if bk := rt.mgr.Book(); bk != nil {
		recipes, failures = bk.Len(), bk.Failures()
	}
	st := rt.mgr.Stats()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP temporalsmith_book_recipes Recipes in the current book.\n")
	fmt.Fprintf(rw, "# TYPE temporalsmith_book_recipes gauge\n")
	fmt.Fprintf(rw, "temporalsmith_book_recipes %d\n", recipes)

	fmt.Fprintf(rw, "# HELP temporalsmith_book_failures Definitions that failed to load into the current book.\n")
	fmt.Fprintf(rw, "# TYPE temporalsmith_book_failures gauge\n")
	fmt.Fprintf(rw, "temporalsmith_book_failures %d\n", failures)

	fmt.Fprintf(rw, "# HELP temporalsmith_lookups_total Recipe lookups served.\n")
	fmt.Fprintf(rw, "# TYPE temporalsmith_lookups_total counter\n")
	fmt.Fprintf(rw, "temporalsmith_lookups_total %d\n", st.Lookups)

	fmt.Fprintf(rw, "# HELP temporalsmith_lookup_cache_hits_total Lookups answered from the memo.\n")
	fmt.Fprintf(rw, "# TYPE temporalsmith_lookup_cache_hits_total counter\n")
	fmt.Fprintf(rw, "temporalsmith_lookup_cache_hits_total %d\n", st.CacheHits)

	fmt.Fprintf(rw, "# HELP temporalsmith_lookup_cache_entries Memoized lookups.\n")
	fmt.Fprintf(rw, "# TYPE temporalsmith_lookup_cache_entries gauge\n")
	fmt.Fprintf(rw, "temporalsmith_lookup_cache_entries %d\n", st.Cached)

	fmt.Fprintf(rw, "# HELP temporalsmith_sync_sessions Connected sync clients.\n")
	fmt.Fprintf(rw, "# TYPE temporalsmith_sync_sessions gauge\n")
	fmt.Fprintf(rw, "temporalsmith_sync_sessions %d\n", rt.sync.Sessions())

	if rt.idx != nil {
		writeIndexMetrics(rw, rt.idx.Stats())
	}
}

func writeIndexMetrics(rw http.ResponseWriter, s indexdb.Stats) {
	fmt.Fprintf(rw, "# HELP temporalsmith_index_queue_depth Current index writer queue depth.\n")
	fmt.Fprintf(rw, "# TYPE temporalsmith_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "temporalsmith_index_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(rw, "# HELP temporalsmith_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE temporalsmith_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "temporalsmith_index_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP temporalsmith_index_written_total Index transactions committed.\n")
	fmt.Fprintf(rw, "# TYPE temporalsmith_index_written_total counter\n")
	fmt.Fprintf(rw, "temporalsmith_index_written_total %d\n", s.Written)

	fmt.Fprintf(rw, "# HELP temporalsmith_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE temporalsmith_index_dropped_total counter\n")
	fmt.Fprintf(rw, "temporalsmith_index_dropped_total{kind=%q} %d\n", "reload", s.DropReloadTotal)
	fmt.Fprintf(rw, "temporalsmith_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
}

type failureJSON struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type stateResponse struct {
	ReloadID string         `json:"reload_id,omitempty"`
	Digest   string         `json:"digest,omitempty"`
	LoadedAt time.Time      `json:"loaded_at"`
	Recipes  int            `json:"recipes"`
	Failures int            `json:"failures"`
	Kinds    []string       `json:"kinds,omitempty"`
	Lookups  book.Stats     `json:"lookups"`
	Sessions int            `json:"sessions"`
	Ores     []string       `json:"ores"`
	Index    *indexdb.Stats `json:"index,omitempty"`
	Tuning   string         `json:"tuning_digest,omitempty"`
	Portal   string         `json:"return_portal_frame_block"`
}

func (rt *runtime) adminState(rw http.ResponseWriter, r *http.Request) {
	resp := stateResponse{
		Lookups:  rt.mgr.Stats(),
		Sessions: rt.sync.Sessions(),
		Tuning:   rt.tune.Digest,
		Portal:   rt.tune.ReturnPortalFrameBlock,
	}
	if bk := rt.mgr.Book(); bk != nil {
		resp.ReloadID, resp.Digest, resp.LoadedAt = bk.ReloadID(), bk.Digest(), bk.LoadedAt()
		resp.Recipes, resp.Failures = bk.Len(), bk.Failures()
		for _, k := range bk.Kinds() {
			resp.Kinds = append(resp.Kinds, string(k))
		}
	}
	for _, row := range rt.ores.Rows {
		resp.Ores = append(resp.Ores, row.ID)
	}
	if rt.idx != nil {
		st := rt.idx.Stats()
		resp.Index = &st
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (rt *runtime) adminReload(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	b, err := rt.mgr.Reload(ctx)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	bk := rt.mgr.Book()
	fails := make([]failureJSON, 0, len(b.Failures))
	for _, f := range b.Failures {
		fails = append(fails, failureJSON{ID: f.ID, Error: f.Err.Error()})
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"ok":        true,
		"reload_id": b.ReloadID,
		"digest":    bk.Digest(),
		"loaded":    len(b.Recipes),
		"failures":  fails,
	})
}

func (rt *runtime) oreTable(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(rw, http.StatusOK, rt.ores)
}

type veinJSON struct {
	Origin [3]float64 `json:"origin"`
	Blocks []ores.Pos `json:"blocks"`
}

// orePreview shows the veins one ore row attempts in one chunk:
// GET /v1/ores/preview?id=&seed=&cx=&cz=
func (rt *runtime) orePreview(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	row, ok := rt.ores.Get(strings.TrimSpace(q.Get("id")))
	if !ok {
		http.Error(rw, "unknown ore "+q.Get("id"), http.StatusNotFound)
		return
	}
	var nums [3]int64
	for i, k := range []string{"seed", "cx", "cz"} {
		v := strings.TrimSpace(q.Get(k))
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(rw, "bad "+k, http.StatusBadRequest)
			return
		}
		nums[i] = n
	}
	seed, cx, cz := nums[0], int(nums[1]), int(nums[2])

	out := struct {
		ID    string     `json:"id"`
		Veins []veinJSON `json:"veins"`
	}{ID: row.ID}
	for _, o := range row.Origins(seed, cx, cz) {
		out.Veins = append(out.Veins, veinJSON{Origin: [3]float64(o), Blocks: ores.Vein(seed, o, row.Size)})
	}
	writeJSON(rw, http.StatusOK, out)
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
