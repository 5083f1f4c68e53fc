package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"temporalsmith.dev/internal/protocol"
	"temporalsmith.dev/internal/recipe"
	"temporalsmith.dev/internal/recipe/serializers"
)

// ErrRejected is returned by Dial when the server answers HELLO with ERROR.
var ErrRejected = errors.New("rejected by server")

// Client is the receiving end of recipe book sync.
type Client struct {
	conn    *websocket.Conn
	Welcome protocol.WelcomeMsg
}

// Dial connects, sends HELLO and waits for WELCOME.
func Dial(ctx context.Context, url, name, knownDigest string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	hello, _ := json.Marshal(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      name,
		KnownDigest:     knownDigest,
	})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		conn.Close()
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	base, err := protocol.DecodeBase(msg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	switch base.Type {
	case protocol.TypeWelcome:
		c := &Client{conn: conn}
		if err := json.Unmarshal(msg, &c.Welcome); err != nil {
			conn.Close()
			return nil, err
		}
		return c, nil
	case protocol.TypeError:
		var e protocol.ErrorMsg
		_ = json.Unmarshal(msg, &e)
		conn.Close()
		return nil, fmt.Errorf("%w: %s %s", ErrRejected, e.Code, e.Message)
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected %s before WELCOME", base.Type)
	}
}

// Event is one server push: either a RELOADED notice or a book frame.
type Event struct {
	Reloaded *protocol.ReloadedMsg
	Book     *protocol.BookFrame
}

// Next blocks for the next push. A frame that fails to decode closes the
// connection and returns an error wrapping protocol.ErrDecodeMismatch.
func (c *Client) Next(ctx context.Context) (Event, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(dl)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	typ, msg, err := c.conn.ReadMessage()
	if err != nil {
		return Event{}, err
	}
	if typ == websocket.BinaryMessage {
		f, err := protocol.DecodeBookFrame(msg)
		if err != nil {
			c.Fail(err)
			return Event{}, err
		}
		return Event{Book: &f}, nil
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return Event{}, err
	}
	if base.Type != protocol.TypeReloaded {
		return Event{}, fmt.Errorf("unexpected %s", base.Type)
	}
	var r protocol.ReloadedMsg
	if err := json.Unmarshal(msg, &r); err != nil {
		return Event{}, err
	}
	return Event{Reloaded: &r}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Fail tells the server why the client is giving up on the connection, then
// closes it.
func (c *Client) Fail(err error) {
	code := protocol.ErrInternal
	if errors.Is(err, protocol.ErrDecodeMismatch) {
		code = protocol.ErrProtoDecodeMismatch
	}
	b, _ := json.Marshal(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         err.Error(),
	})
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.TextMessage, b)
	_ = c.conn.Close()
}

// DecodedRecipe is a recipe reconstructed from a book frame.
type DecodedRecipe struct {
	ID     string
	Recipe recipe.Recipe
}

// DecodeBook verifies the frame digest, then decodes every payload of f and
// re-encodes it; any difference from the received bytes is a decode mismatch.
func DecodeBook(f protocol.BookFrame, table *serializers.Table, c recipe.Catalog) ([]DecodedRecipe, error) {
	if err := f.Verify(); err != nil {
		return nil, err
	}
	out := make([]DecodedRecipe, 0, len(f.Recipes))
	for _, fr := range f.Recipes {
		r, err := table.DecodeWire(fr.Kind, fr.Payload, c)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", protocol.ErrDecodeMismatch, fr.ID, err)
		}
		again, err := table.EncodeWire(r, c)
		if err != nil || !bytes.Equal(again, fr.Payload) {
			return nil, fmt.Errorf("%w: %s does not re-encode identically", protocol.ErrDecodeMismatch, fr.ID)
		}
		out = append(out, DecodedRecipe{ID: fr.ID, Recipe: r})
	}
	return out, nil
}
