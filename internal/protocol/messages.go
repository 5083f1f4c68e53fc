package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// KnownDigest skips the initial book push when it equals the server's.
	KnownDigest string `json:"known_digest,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	Book            BookRef        `json:"book"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

// BookRef identifies the book a RECIPE_BOOK frame carries.
type BookRef struct {
	ReloadID string `json:"reload_id"`
	Digest   string `json:"digest"`
	Count    int    `json:"count"`
}

type CatalogDigests struct {
	ItemPalette        DigestRef `json:"item_palette"`
	BlockPalette       DigestRef `json:"block_palette"`
	EnchantmentPalette DigestRef `json:"enchantment_palette"`
	SerializersDigest  string    `json:"serializers_digest"`
	TuningDigest       string    `json:"tuning_digest,omitempty"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// RELOADED (server -> client) precedes the RECIPE_BOOK frame pushed after a
// reload.
type ReloadedMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Book            BookRef `json:"book"`
	Failures        int     `json:"failures"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
