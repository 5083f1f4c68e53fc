package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"

	"temporalsmith.dev/internal/protocol"
	"temporalsmith.dev/internal/recipe"
	"temporalsmith.dev/internal/recipe/book"
	"temporalsmith.dev/internal/recipe/loader"
	"temporalsmith.dev/internal/recipe/serializers"
	"temporalsmith.dev/internal/sim/catalogs"
)

type fixture struct {
	src   fstest.MapFS
	mgr   *book.Manager
	tab   *serializers.Table
	cats  *catalogs.Catalogs
	srv   *Server
	http  *httptest.Server
	wsURL string
}

func swordFile(gem string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(`{
	  "type": "temporalsmith:tool_crafting_shaped",
	  "category": "sword",
	  "pattern": ["G", "G", "S"],
	  "key": {"G": {"item": "temporalsmith:` + gem + `"}, "S": {"item": "minecraft:stick"}},
	  "result": {"item": "temporalsmith:` + gem + `_sword"}
	}`)}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	tab, err := serializers.Builtin()
	if err != nil {
		t.Fatalf("serializers: %v", err)
	}
	f := &fixture{
		src: fstest.MapFS{
			"data/temporalsmith/recipes/ruby_sword.json": swordFile("ruby"),
			"data/temporalsmith/recipes/magma_strike_pickaxe.json": {Data: []byte(`{
			  "type": "temporalsmith:ingot_fusion_tool_enhancer",
			  "category": "tool",
			  "left": {"item": "temporalsmith:imperium"},
			  "middle": {"item": "temporalsmith:imperium_pickaxe"},
			  "right": {"item": "temporalsmith:imperium"},
			  "result": {"item": "temporalsmith:magma_strike_pickaxe"}
			}`)},
		},
		tab:  tab,
		cats: cats,
	}
	f.mgr = book.NewManager(book.ManagerConfig{
		Loader:      &loader.Loader{Serializers: tab, Catalog: cats},
		Serializers: tab,
		Catalog:     cats,
		Source:      f.src,
	})
	if _, err := f.mgr.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	f.srv = NewServer(f.mgr, Config{Catalogs: protocol.CatalogDigests{
		ItemPalette: protocol.DigestRef{Digest: cats.Items.Digest(), Count: cats.Items.Len()},
	}}, nil)
	f.http = httptest.NewServer(f.srv.Handler())
	t.Cleanup(f.http.Close)
	f.wsURL = "ws" + strings.TrimPrefix(f.http.URL, "http")
	return f
}

func nextBook(t *testing.T, c *Client) *protocol.BookFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		ev, err := c.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if ev.Book != nil {
			return ev.Book
		}
	}
}

func TestSync_WelcomeThenBook(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, f.wsURL, "test", "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if c.Welcome.SessionID == "" || c.Welcome.Book.Count != 2 || c.Welcome.Book.Digest != f.mgr.Book().Digest() {
		t.Fatalf("unexpected welcome %+v", c.Welcome)
	}

	frame := nextBook(t, c)
	got, err := DecodeBook(*frame, f.tab, f.cats)
	if err != nil {
		t.Fatalf("decode book: %v", err)
	}
	if len(got) != 2 || got[0].ID != "temporalsmith:magma_strike_pickaxe" || got[1].Recipe.Kind() != recipe.KindToolShaped {
		t.Fatalf("unexpected recipes %+v", got)
	}
	want, _ := f.mgr.Book().Get("temporalsmith:ruby_sword")
	if !got[1].Recipe.ResultItem().Equal(want.Recipe.ResultItem()) {
		t.Fatalf("result changed over sync")
	}
}

func TestSync_PushesOnReload(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, f.wsURL, "test", f.mgr.Book().Digest())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	f.src["data/temporalsmith/recipes/sapphire_sword.json"] = swordFile("sapphire")
	if _, err := f.mgr.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	ev, err := c.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Reloaded == nil || ev.Reloaded.Book.Count != 3 {
		t.Fatalf("expected RELOADED first (client already had the old book), got %+v", ev)
	}
	frame := nextBook(t, c)
	if frame.Digest != f.mgr.Book().Digest() || len(frame.Recipes) != 3 {
		t.Fatalf("unexpected frame digest=%s n=%d", frame.Digest, len(frame.Recipes))
	}
}

func TestSync_RejectsBadVersion(t *testing.T) {
	f := newFixture(t)
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	hello, _ := json.Marshal(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1", ClientName: "old"})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e protocol.ErrorMsg
	if err := json.Unmarshal(msg, &e); err != nil || e.Type != protocol.TypeError || e.Code != protocol.ErrVersion {
		t.Fatalf("expected E_VERSION, got %s", msg)
	}
}

func TestDecodeBook_Mismatch(t *testing.T) {
	f := newFixture(t)
	bk := f.mgr.Book()
	e, _ := bk.Get("temporalsmith:ruby_sword")

	// Trailing byte behind a valid payload, with a digest that matches it.
	bad := protocol.BookFrame{Recipes: []protocol.FrameRecipe{
		{ID: e.ID, Kind: string(e.Kind), Payload: append(append([]byte(nil), e.Payload...), 0)},
	}}
	bad.Digest = protocol.BookDigest(bad.Recipes)
	if _, err := DecodeBook(bad, f.tab, f.cats); !errors.Is(err, protocol.ErrDecodeMismatch) {
		t.Fatalf("expected ErrDecodeMismatch, got %v", err)
	}

	// Untouched content under a stale digest.
	stale := bk.Frame()
	stale.Digest = "00"
	if _, err := DecodeBook(stale, f.tab, f.cats); !errors.Is(err, protocol.ErrDecodeMismatch) {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
	if _, err := DecodeBook(bk.Frame(), f.tab, f.cats); err != nil {
		t.Fatalf("current book: %v", err)
	}
}

func TestSync_RejectsBeforeFirstBook(t *testing.T) {
	tab, err := serializers.Builtin()
	if err != nil {
		t.Fatalf("serializers: %v", err)
	}
	mgr := book.NewManager(book.ManagerConfig{Serializers: tab})
	srv := httptest.NewServer(NewServer(mgr, Config{}, nil).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), "early", "")
	if !errors.Is(err, ErrRejected) || !strings.Contains(err.Error(), protocol.ErrNoBook) {
		t.Fatalf("expected E_NO_BOOK rejection, got %v", err)
	}
}

func TestSync_OriginCheck(t *testing.T) {
	f := newFixture(t)
	hdr := http.Header{"Origin": {"http://elsewhere.example"}}
	if _, resp, err := websocket.DefaultDialer.Dial(f.wsURL, hdr); err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-origin upgrade must be refused: err=%v resp=%v", err, resp)
	}
	if conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil); err != nil {
		t.Fatalf("no Origin header: %v", err)
	} else {
		conn.Close()
	}

	open := NewServer(f.mgr, Config{AllowAnyOrigin: true}, nil)
	hs := httptest.NewServer(open.Handler())
	defer hs.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), hdr)
	if err != nil {
		t.Fatalf("AllowAnyOrigin: %v", err)
	}
	conn.Close()
}
