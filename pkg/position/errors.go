package position

import "fmt"

// ErrorCode is the raw failure code reported by a geolocation capability.
// Values follow the W3C Geolocation API numbering.
type ErrorCode int

const (
	CodePermissionDenied    ErrorCode = 1
	CodePositionUnavailable ErrorCode = 2
	CodeTimeout             ErrorCode = 3
)

// Kind classifies a position acquisition failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindPermissionDenied
	KindPositionUnavailable
	KindTimeout
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindPermissionDenied:    "permission_denied",
	KindPositionUnavailable: "position_unavailable",
	KindTimeout:             "timeout",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown position error kind %q", string(b))
}

// User-facing messages.
const (
	MsgPermissionDenied    = "User denied the request for Geolocation."
	MsgPositionUnavailable = "Location information is unavailable."
	MsgTimeout             = "The request to get user location timed out."
	MsgUnknown             = "An unknown error occurred."
	MsgUnsupported         = "Geolocation is not supported on this host."
	MsgCancelled           = "The request to get user location was cancelled."
)

// GeoError is a classified position acquisition failure. It is recoverable by
// issuing a new request.
type GeoError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e *GeoError) Error() string {
	return e.Message
}

// Is matches any GeoError of the same kind, so errors.Is(err, ErrTimeout) works
// regardless of message.
func (e *GeoError) Is(target error) bool {
	t, ok := target.(*GeoError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrPermissionDenied    = &GeoError{Kind: KindPermissionDenied, Message: MsgPermissionDenied}
	ErrPositionUnavailable = &GeoError{Kind: KindPositionUnavailable, Message: MsgPositionUnavailable}
	ErrTimeout             = &GeoError{Kind: KindTimeout, Message: MsgTimeout}
	ErrUnknown             = &GeoError{Kind: KindUnknown, Message: MsgUnknown}
)

// Classify maps a capability failure code to a GeoError.
// Unrecognized codes map to KindUnknown.
func Classify(code ErrorCode) *GeoError {
	switch code {
	case CodePermissionDenied:
		return &GeoError{Kind: KindPermissionDenied, Message: MsgPermissionDenied}
	case CodePositionUnavailable:
		return &GeoError{Kind: KindPositionUnavailable, Message: MsgPositionUnavailable}
	case CodeTimeout:
		return &GeoError{Kind: KindTimeout, Message: MsgTimeout}
	default:
		return &GeoError{Kind: KindUnknown, Message: MsgUnknown}
	}
}

func unsupported() *GeoError {
	return &GeoError{Kind: KindUnknown, Message: MsgUnsupported}
}
