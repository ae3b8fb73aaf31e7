package protocol

import "errors"

var (
	ErrBadJSON     = errors.New("undecodable message")
	ErrUnknownType = errors.New("unknown message type")
	ErrSchema      = errors.New("message failed schema validation")
)

// Codes attached to dropped-message log lines.
const (
	CodeBadJSON     = "E_PROTO_BAD_JSON"
	CodeUnknownType = "E_PROTO_UNKNOWN_TYPE"
	CodeSchema      = "E_PROTO_SCHEMA"
	CodeBadMap      = "E_PROTO_BAD_MAP"
	CodeOutOfOrder  = "E_PROTO_OUT_OF_ORDER"
	CodeInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	CodeBadJSON:     {},
	CodeUnknownType: {},
	CodeSchema:      {},
	CodeBadMap:      {},
	CodeOutOfOrder:  {},
	CodeInternal:    {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeOf maps a Decode error to its log code.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBadJSON):
		return CodeBadJSON
	case errors.Is(err, ErrUnknownType):
		return CodeUnknownType
	case errors.Is(err, ErrSchema):
		return CodeSchema
	default:
		return CodeInternal
	}
}
