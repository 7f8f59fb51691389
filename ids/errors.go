package ids

import "fmt"

// Kind is the structural error taxonomy of spec.md §7. Callers classify on
// Kind rather than matching error strings.
type Kind int

const (
	KindInvalidPacket Kind = iota
	KindCrypto
	KindNoise
	KindSession
	KindTransport
	KindStorage
	KindSerialization
	KindRateLimited
	KindInvalidPeerID
	KindConfiguration
	KindChannel
)

func (k Kind) String() string {
	switch k {
	case KindInvalidPacket:
		return "InvalidPacket"
	case KindCrypto:
		return "Crypto"
	case KindNoise:
		return "Noise"
	case KindSession:
		return "Session"
	case KindTransport:
		return "Transport"
	case KindStorage:
		return "Storage"
	case KindSerialization:
		return "Serialization"
	case KindRateLimited:
		return "RateLimited"
	case KindInvalidPeerID:
		return "InvalidPeerId"
	case KindConfiguration:
		return "Configuration"
	case KindChannel:
		return "Channel"
	default:
		return "Unknown"
	}
}

// SessionVariant refines KindSession per spec.md §7.
type SessionVariant int

const (
	SessionNotFound SessionVariant = iota
	SessionHandshakeFailed
	SessionHandshakeTimeout
	SessionExpired
)

func (v SessionVariant) String() string {
	switch v {
	case SessionNotFound:
		return "SessionNotFound"
	case SessionHandshakeFailed:
		return "HandshakeFailed"
	case SessionHandshakeTimeout:
		return "HandshakeTimeout"
	case SessionExpired:
		return "SessionExpired"
	default:
		return "Unknown"
	}
}

// ChannelVariant refines KindChannel per spec.md §5 ("queue full error
// is a first-class error, not a blocked thread").
type ChannelVariant int

const (
	ChannelQueueFull ChannelVariant = iota
	ChannelClosed
)

func (v ChannelVariant) String() string {
	switch v {
	case ChannelQueueFull:
		return "QueueFull"
	case ChannelClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// TransportVariant refines KindTransport per spec.md §7.
type TransportVariant int

const (
	TransportPeerNotFound TransportVariant = iota
	TransportSendBufferFull
	TransportShutdown
	TransportInvalidConfiguration
)

func (v TransportVariant) String() string {
	switch v {
	case TransportPeerNotFound:
		return "PeerNotFound"
	case TransportSendBufferFull:
		return "SendBufferFull"
	case TransportShutdown:
		return "Shutdown"
	case TransportInvalidConfiguration:
		return "InvalidConfiguration"
	default:
		return "Unknown"
	}
}

// Error is a leaf error: a structural Kind, an optional variant tag, and a
// human-readable reason. It wraps an underlying cause when present so
// errors.Is/errors.As keep working through the taxonomy.
type Error struct {
	Kind    Kind
	Variant fmt.Stringer
	Reason  string
	Cause   error
}

func (e *Error) Error() string {
	if e.Variant != nil {
		if e.Cause != nil {
			return fmt.Sprintf("%s.%s: %s: %v", e.Kind, e.Variant, e.Reason, e.Cause)
		}
		return fmt.Sprintf("%s.%s: %s", e.Kind, e.Variant, e.Reason)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target has the same Kind (and, if set, Variant) as e.
// This lets callers write `errors.Is(err, &ids.Error{Kind: ids.KindSession})`.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	if other.Kind != e.Kind {
		return false
	}
	if other.Variant != nil && other.Variant != e.Variant {
		return false
	}
	return true
}

// New builds a leaf Error with no variant or cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf builds a leaf Error with a formatted reason.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap builds a leaf Error that carries an underlying cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// WithVariant builds a leaf Error carrying a sub-kind variant tag.
func WithVariant(kind Kind, variant fmt.Stringer, reason string) *Error {
	return &Error{Kind: kind, Variant: variant, Reason: reason}
}

// PeerScoped reports whether an error kind/variant is peer-scoped per the
// propagation policy of spec.md §7: a malicious or misbehaving peer must
// never be able to abort the engine.
func (e *Error) PeerScoped() bool {
	switch e.Kind {
	case KindSession, KindTransport, KindCrypto, KindNoise, KindInvalidPacket, KindRateLimited:
		return true
	default:
		return false
	}
}

// Unrecoverable reports whether an error kind aborts the owning task per
// spec.md §7 (Channel, Configuration).
func (e *Error) Unrecoverable() bool {
	return e.Kind == KindChannel || e.Kind == KindConfiguration
}
