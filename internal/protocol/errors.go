package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest     = "E_PROTO_BAD_REQUEST"
	ErrProtoDecodeMismatch = "E_PROTO_DECODE_MISMATCH"
	ErrVersion             = "E_VERSION"

	// Recipe book state.
	ErrNoBook   = "E_NO_BOOK"
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:     {},
	ErrProtoDecodeMismatch: {},
	ErrVersion:             {},
	ErrNoBook:              {},
	ErrInternal:            {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
