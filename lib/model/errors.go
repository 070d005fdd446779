package model

// ErrorKind classifies the failures surfaced by the pipeline.
type ErrorKind int

// Error kinds.
const (
	// TransportError is a socket level failure, recovered by reconnecting with backoff.
	TransportError ErrorKind = iota
	// AuthError is a rejected credential, recovered by rotating to another credential.
	AuthError
	// ProtocolError is a malformed or unexpected message. The message is dropped.
	ProtocolError
	// EnrichmentFetchError is a metadata fetch that failed after all its retries.
	EnrichmentFetchError
	// ExhaustionError means reconnect attempts ran out and the connection needs external action.
	ExhaustionError
)

func (k ErrorKind) String() string {
	switch k {
	case TransportError:
		return "transport"
	case AuthError:
		return "auth"
	case ProtocolError:
		return "protocol"
	case EnrichmentFetchError:
		return "enrichment"
	case ExhaustionError:
		return "exhaustion"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind in JSON payloads.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
