package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"temporalsmith.dev/internal/protocol"
	"temporalsmith.dev/internal/recipe"
	"temporalsmith.dev/internal/recipe/serializers"
	"temporalsmith.dev/internal/sim/catalogs"
	"temporalsmith.dev/internal/transport/ws"
)

// bot is a headless sync client: it follows the server's recipe book and
// checks that every pushed frame decodes against the local catalogs.
func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name      = flag.String("name", "bot", "client name")
		configDir = flag.String("configs", "./configs", "config directory (must match the server's)")
		once      = flag.Bool("once", false, "exit after the first book")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	tab, err := serializers.Builtin()
	if err != nil {
		logger.Fatalf("serializers: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := ws.Dial(dialCtx, *url, *name, "")
	cancel()
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer c.Close()

	w := c.Welcome
	logger.Printf("WELCOME session=%s book=%s recipes=%d", w.SessionID, short(w.Book.Digest), w.Book.Count)
	if w.Catalogs.ItemPalette.Digest != cats.Items.Digest() {
		logger.Fatalf("item palette differs from server (%s vs %s); payloads would not decode",
			short(cats.Items.Digest()), short(w.Catalogs.ItemPalette.Digest))
	}
	if w.Catalogs.SerializersDigest != tab.Digest() {
		logger.Fatalf("serializer table differs from server")
	}

	for {
		ev, err := c.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, protocol.ErrDecodeMismatch) {
				logger.Fatalf("book frame: %v", err)
			}
			logger.Printf("connection closed: %v", err)
			os.Exit(1)
		}
		switch {
		case ev.Reloaded != nil:
			logger.Printf("RELOADED book=%s recipes=%d failures=%d", short(ev.Reloaded.Book.Digest), ev.Reloaded.Book.Count, ev.Reloaded.Failures)
		case ev.Book != nil:
			got, err := ws.DecodeBook(*ev.Book, tab, cats)
			if err != nil {
				c.Fail(err)
				logger.Fatalf("decode book: %v", err)
			}
			logger.Printf("BOOK %s: %d recipes %v", short(ev.Book.Digest), len(got), countKinds(got))
			if *once {
				return
			}
		}
	}
}

func countKinds(rs []ws.DecodedRecipe) map[recipe.Kind]int {
	n := map[recipe.Kind]int{}
	for _, r := range rs {
		n[r.Recipe.Kind()]++
	}
	return n
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
