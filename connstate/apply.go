package connstate

import (
	"time"

	"github.com/bitchat-mesh/bitchat/ids"
)

func invalid(s State, ev Event, now time.Time) (State, []Effect, error) {
	return s, nil, ids.Newf(ids.KindTransport, "invalid transition: %T + event %d", s, ev.Kind)
}

func failedAttemptsOf(s State) int {
	switch st := s.(type) {
	case Disconnected:
		return st.FailedAttempts
	case Discovering:
		return st.FailedAttempts
	case Connecting:
		return st.FailedAttempts
	case Failed:
		return st.FailedAttempts
	default:
		return 0
	}
}

// Apply advances state by event. It is total over State x EventKind: any
// pair not explicitly handled returns an InvalidTransition-flavored error
// with the state unchanged, per spec.md §4.7. Disconnect is accepted from
// every state.
func Apply(state State, ev Event, now time.Time) (State, []Effect, error) {
	if ev.Kind == EventDisconnect {
		peer := state.PeerID()
		return Disconnected{Peer: peer, LastSeen: now, FailedAttempts: failedAttemptsOf(state)}, nil, nil
	}

	switch s := state.(type) {
	case Disconnected:
		if ev.Kind == EventStartDiscovery {
			next := Discovering{
				Peer:           s.Peer,
				Started:        now,
				Timeout:        discoveryTimeout,
				FailedAttempts: s.FailedAttempts,
			}
			return next, []Effect{{Kind: EffectStartTransportDiscovery}}, nil
		}
		return invalid(s, ev, now)

	case Discovering:
		switch ev.Kind {
		case EventPeerDiscovered:
			next := s
			next.DiscoveredTransports = append(append([]TransportKind(nil), s.DiscoveredTransports...), ev.Transport)
			return next, nil, nil
		case EventInitiateConnection:
			next := Connecting{
				Peer:           s.Peer,
				Transport:      ev.Transport,
				Started:        now,
				Timeout:        connectingTimeout,
				SessionParams:  ev.SessionParams,
				FailedAttempts: s.FailedAttempts,
			}
			return next, []Effect{{Kind: EffectInitiateConnection, Transport: ev.Transport}}, nil
		case EventTimeout:
			next := Failed{
				Peer:           s.Peer,
				HasTransport:   false,
				FailedAt:       now,
				Reason:         "DiscoveryTimeout",
				RetryAfter:     now.Add(failedRetryAfter),
				HasRetryAfter:  true,
				FailedAttempts: s.FailedAttempts + 1,
			}
			return next, nil, nil
		}
		return invalid(s, ev, now)

	case Connecting:
		switch ev.Kind {
		case EventConnectionEstablished:
			next := Connected{
				Peer:         s.Peer,
				Transport:    s.Transport,
				Since:        now,
				SessionID:    ev.SessionID,
				LastActivity: now,
			}
			return next, nil, nil
		case EventConnectionFailed:
			next := Failed{
				Peer:           s.Peer,
				Transport:      s.Transport,
				HasTransport:   true,
				FailedAt:       now,
				Reason:         ev.Reason,
				RetryAfter:     now.Add(failedRetryAfter),
				HasRetryAfter:  true,
				FailedAttempts: s.FailedAttempts + 1,
			}
			return next, nil, nil
		case EventTimeout:
			next := Failed{
				Peer:           s.Peer,
				Transport:      s.Transport,
				HasTransport:   true,
				FailedAt:       now,
				Reason:         "ConnectingTimeout",
				RetryAfter:     now.Add(failedRetryAfter),
				HasRetryAfter:  true,
				FailedAttempts: s.FailedAttempts + 1,
			}
			return next, nil, nil
		}
		return invalid(s, ev, now)

	case Connected:
		switch ev.Kind {
		case EventActivityDetected:
			next := s
			next.LastActivity = now
			next.MessageCount++
			return next, nil, nil
		case EventConnectionLost:
			next := Failed{
				Peer:           s.Peer,
				Transport:      s.Transport,
				HasTransport:   true,
				FailedAt:       now,
				Reason:         ev.Reason,
				RetryAfter:     now.Add(failedRetryAfter),
				HasRetryAfter:  true,
				FailedAttempts: 1,
			}
			return next, nil, nil
		}
		return invalid(s, ev, now)

	case Failed:
		if ev.Kind == EventRetry {
			if s.HasTransport {
				next := Connecting{
					Peer:           s.Peer,
					Transport:      s.Transport,
					Started:        now,
					Timeout:        connectingTimeout,
					FailedAttempts: s.FailedAttempts,
				}
				return next, []Effect{{Kind: EffectInitiateConnection, Transport: s.Transport}}, nil
			}
			next := Discovering{
				Peer:           s.Peer,
				Started:        now,
				Timeout:        discoveryTimeout,
				FailedAttempts: s.FailedAttempts,
			}
			return next, []Effect{{Kind: EffectStartTransportDiscovery}}, nil
		}
		return invalid(s, ev, now)
	}

	return invalid(state, ev, now)
}
