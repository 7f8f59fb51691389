package engine

import (
	"context"

	"github.com/bitchat-mesh/bitchat/connstate"
	"github.com/bitchat-mesh/bitchat/delivery"
	"github.com/bitchat-mesh/bitchat/fragment"
	"github.com/bitchat-mesh/bitchat/identity"
	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/bitchat-mesh/bitchat/session"
	"github.com/bitchat-mesh/bitchat/store"
	"github.com/bitchat-mesh/bitchat/transport"
	"github.com/bitchat-mesh/bitchat/wire"
)

// handleSendMessage turns a UI request into outbound wire traffic. A
// recipient-addressed message goes through session.Manager.Encrypt and a
// NoiseEncrypted packet; a recipient-less message is an unencrypted
// Message packet flooded over the public mesh, per spec.md §4.1/§4.3.
func (e *Engine) handleSendMessage(ctx context.Context, c SendMessage) {
	seq := e.nextSequence()
	ts := ids.TimestampFromTime(e.clk.Now())

	if !c.HasRecipient {
		msgID := store.ComputeMessageID(e.localPeerID, ids.ZeroPeerID, false, c.Content, ts, seq)
		msg := &store.Message{ID: msgID, Sender: e.localPeerID, Content: c.Content, Timestamp: ts, Sequence: seq}
		if _, err := e.msgStore.Store(msg); err != nil {
			e.publishAppEvent(Error{Message: err.Error(), At: e.clk.Now()})
			return
		}
		pkt := &wire.Packet{Version: wire.Version1, Type: wire.MessageMessage, TTL: e.cfg.DefaultTTL, Timestamp: ts, Sender: e.localPeerID, Payload: []byte(c.Content)}
		e.sendWirePacket(pkt, transport.PublicMesh{})
		e.publishAppEvent(MessageSent{MessageID: msgID, Status: "sent"})
		return
	}

	fp, ok := e.fingerprintOf(c.Recipient)
	if !ok {
		e.publishAppEvent(Error{Message: "unknown recipient, no identity on file", At: e.clk.Now()})
		return
	}

	msgID := store.ComputeMessageID(e.localPeerID, c.Recipient, true, c.Content, ts, seq)
	msg := &store.Message{ID: msgID, Sender: e.localPeerID, Recipient: c.Recipient, HasRecipient: true, Content: c.Content, Timestamp: ts, Sequence: seq}
	if _, err := e.msgStore.Store(msg); err != nil {
		e.publishAppEvent(Error{Message: err.Error(), At: e.clk.Now()})
		return
	}
	e.deliveries.Register(msgID, c.Recipient, []byte(c.Content))

	payload := wire.EncodeNoisePayload(wire.NoisePayload{Type: wire.NoisePrivateMessage, Body: []byte(c.Content)})
	if err := e.encryptAndSend(fp, c.Recipient, payload); err != nil {
		e.publishAppEvent(Error{Message: err.Error(), At: e.clk.Now()})
		return
	}
	if err := e.deliveries.MarkSent(msgID); err != nil {
		e.log.Debug().Err(err).Msg("delivery tracker rejected MarkSent")
	}
	e.publishAppEvent(MessageSent{MessageID: msgID, Status: "sent"})
}

// encryptAndSend wraps plaintext in the peer's Noise session and emits it
// as a NoiseEncrypted packet addressed to peer, splitting into Fragment
// packets first when the session frame would exceed the v1 payload
// ceiling, per spec.md §4.1/§4.9.
func (e *Engine) encryptAndSend(fp ids.Fingerprint, peer ids.PeerID, plaintext []byte) error {
	sessionID, nonce, ciphertext, err := e.sessions.Encrypt(fp, plaintext)
	if err != nil {
		return err
	}
	frame := wire.EncodeSessionFrame(sessionID, nonce, ciphertext)

	if len(frame) <= wire.MaxPayloadV1 {
		pkt := &wire.Packet{Version: wire.Version1, Type: wire.MessageNoiseEncrypted, TTL: e.cfg.DefaultTTL, Timestamp: ids.TimestampFromTime(e.clk.Now()), Sender: e.localPeerID, Recipient: peer, HasRecipient: true, Payload: frame}
		return e.sendWirePacket(pkt, transport.Private{Recipient: peer})
	}

	parts, err := fragment.Split(wire.MessageNoiseEncrypted, frame)
	if err != nil {
		return err
	}
	for _, part := range parts {
		pkt := &wire.Packet{Version: wire.Version1, Type: wire.MessageFragment, TTL: e.cfg.DefaultTTL, Timestamp: ids.TimestampFromTime(e.clk.Now()), Sender: e.localPeerID, Recipient: peer, HasRecipient: true, Payload: part}
		if err := e.sendWirePacket(pkt, transport.Private{Recipient: peer}); err != nil {
			return err
		}
	}
	return nil
}

// sendWirePacket encodes, optionally compresses and always pads pkt, and
// dispatches it through the router per ctxKind, per spec.md §4.1
// ("callers apply Pad/CompressPayload explicitly around Encode").
func (e *Engine) sendWirePacket(pkt *wire.Packet, ctxKind transport.Context) error {
	if wire.ShouldCompress(len(pkt.Payload)) {
		compressed, err := wire.CompressPayload(pkt.Payload)
		if err == nil && len(compressed) < len(pkt.Payload) {
			pkt.Payload = compressed
			pkt.Compressed = true
		}
	}
	data, err := wire.Encode(pkt)
	if err != nil {
		return err
	}
	data = wire.Pad(data)

	sel := e.router.Select(ctxKind)
	switch s := sel.(type) {
	case transport.UseTransport:
		if priv, ok := ctxKind.(transport.Private); ok {
			e.effects.Publish(SendPacket{Transport: s.Transport, Peer: priv.Recipient, Data: data})
		} else {
			e.effects.Publish(BroadcastPacket{Transport: s.Transport, Data: data})
		}
	case transport.UseAll:
		for _, k := range s.Transports {
			if priv, ok := ctxKind.(transport.Private); ok {
				e.effects.Publish(SendPacket{Transport: k, Peer: priv.Recipient, Data: data})
			} else {
				e.effects.Publish(BroadcastPacket{Transport: k, Data: data})
			}
		}
	case transport.Queue:
		e.log.Debug().Msg("no transport currently healthy, packet not sent")
	case transport.CannotSend:
		return ids.Newf(ids.KindTransport, "cannot send: %s", s.Reason)
	}
	return nil
}

// publishAnnounce broadcasts this node's identity over the public mesh,
// per spec.md §6's MessageAnnounce, so peers can resolve a PeerID to a
// Fingerprint before any Noise handshake exists.
func (e *Engine) publishAnnounce(ctx context.Context) {
	ann := announcePayload{StaticPublicKey: e.staticKey.Public, SigningPublicKey: e.signingPublicKey, HasSigningKey: e.hasSigningKey, Nickname: e.cfg.Nickname}
	pkt := &wire.Packet{Version: wire.Version1, Type: wire.MessageAnnounce, TTL: e.cfg.DefaultTTL, Timestamp: ids.TimestampFromTime(e.clk.Now()), Sender: e.localPeerID, Payload: encodeAnnounce(ann)}
	if err := e.sendWirePacket(pkt, transport.PublicMesh{}); err != nil {
		e.log.Debug().Err(err).Msg("failed to broadcast announce")
	}
}

// handleConnectToPeer drives a UI-requested connection attempt through
// connstate (Disconnected -> Discovering -> Connecting) and starts a
// Noise handshake as the initiator, per spec.md §4.7.
//
// The connection-attempt rate limiter here is intentionally keyed by
// ids.ZeroPeerID rather than c.Peer: spec.md §9(b) identifies this as a
// possibly-intentional property of the reference implementation's
// ingress task (the per-peer cap degenerates into one shared,
// process-wide bucket for outbound commands) and asks that it be
// reproduced rather than "fixed."
func (e *Engine) handleConnectToPeer(ctx context.Context, c ConnectToPeer) {
	if !e.commandLimiters.Allow(ids.ZeroPeerID) {
		e.publishAppEvent(Error{Message: "connection attempt rate limited", At: e.clk.Now()})
		return
	}

	fp, ok := e.fingerprintOf(c.Peer)
	if !ok {
		e.publishAppEvent(Error{Message: "unknown peer, no identity on file", At: e.clk.Now()})
		return
	}

	e.ensureDiscovering(c.Peer)

	var chosen transport.Kind
	switch sel := e.router.Select(transport.Private{Recipient: c.Peer}).(type) {
	case transport.UseTransport:
		chosen = sel.Transport
	case transport.UseAll:
		if len(sel.Transports) == 0 {
			e.publishAppEvent(Error{Message: "no transport available to reach peer", At: e.clk.Now()})
			return
		}
		chosen = sel.Transports[0]
	default:
		e.publishAppEvent(Error{Message: "no transport available to reach peer", At: e.clk.Now()})
		return
	}

	next, effs := e.applyConn(c.Peer, connstate.Event{Kind: connstate.EventInitiateConnection, Transport: chosen, SessionParams: connstate.SessionParams{InitiatedByUs: true}})
	e.emitConnEffects(c.Peer, effs)

	msg1, err := e.sessions.Initiate(fp)
	if err != nil {
		e.failConnection(c.Peer, err)
		return
	}
	e.sendHandshakeBytes(c.Peer, chosen, msg1)
	e.publishAppEvent(PeerStatusChanged{Peer: c.Peer, State: next})
}

func (e *Engine) sendHandshakeBytes(peer ids.PeerID, k transport.Kind, payload []byte) {
	pkt := &wire.Packet{Version: wire.Version1, Type: wire.MessageNoiseHandshake, TTL: e.cfg.DefaultTTL, Timestamp: ids.TimestampFromTime(e.clk.Now()), Sender: e.localPeerID, Recipient: peer, HasRecipient: true, Payload: payload}
	data, err := wire.Encode(pkt)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to encode handshake packet")
		return
	}
	data = wire.Pad(data)
	e.effects.Publish(SendPacket{Transport: k, Peer: peer, Data: data})
}

// failConnection routes a handshake or dial failure into connstate,
// choosing ConnectionFailed when we were mid-dial and Timeout otherwise.
func (e *Engine) failConnection(peer ids.PeerID, err error) {
	e.log.Warn().Err(err).Str("peer", peer.String()).Msg("connection attempt failed")
	cur, _ := e.connStateOf(peer)
	ev := connstate.Event{Kind: connstate.EventTimeout}
	if _, ok := cur.(connstate.Connecting); ok {
		ev = connstate.Event{Kind: connstate.EventConnectionFailed, Reason: err.Error()}
	}
	next, effs := e.applyConn(peer, ev)
	e.emitConnEffects(peer, effs)
	e.publishAppEvent(PeerStatusChanged{Peer: peer, State: next})
}

func (e *Engine) handlePeerDiscovered(ev PeerDiscovered) {
	e.router.UpdateReachability(ev.Peer, ev.Transport)
	e.ensureDiscovering(ev.Peer)
	next, effs := e.applyConn(ev.Peer, connstate.Event{Kind: connstate.EventPeerDiscovered, Transport: ev.Transport})
	e.emitConnEffects(ev.Peer, effs)
	e.publishAppEvent(PeerStatusChanged{Peer: ev.Peer, State: next})
}

func (e *Engine) handleConnectionLost(ev ConnectionLost) {
	e.router.RecordFailure(ev.Transport)
	if cur, known := e.connStateOf(ev.Peer); known {
		if _, isConnected := cur.(connstate.Connected); isConnected {
			next, effs := e.applyConn(ev.Peer, connstate.Event{Kind: connstate.EventConnectionLost, Reason: ev.Reason})
			e.emitConnEffects(ev.Peer, effs)
			e.publishAppEvent(PeerStatusChanged{Peer: ev.Peer, State: next})
		}
	}
}

func (e *Engine) handleTransportError(ev TransportError) {
	e.router.RecordFailure(ev.Transport)
	e.publishAppEvent(TransportStatusChanged{Transport: ev.Transport, Status: e.router.StatusOf(ev.Transport)})
	e.publishAppEvent(Error{Message: ev.Err.Error(), At: e.clk.Now()})
}

// handlePacket decodes the wire envelope's routing concerns (Announce,
// Leave, handshake progression, fragment reassembly) and funnels
// complete logical messages into handleMessageReceived, per spec.md
// §4.11's split between BitchatPacketReceived and MessageReceived.
func (e *Engine) handlePacket(ctx context.Context, ev BitchatPacketReceived) {
	if !e.inboundLimiters.Allow(ev.Peer) {
		e.log.Debug().Str("peer", ev.Peer.String()).Msg("inbound message rate limited, dropping")
		return
	}
	pkt := ev.Packet

	switch pkt.Type {
	case wire.MessageAnnounce:
		e.handleAnnouncePacket(ev.Peer, pkt.Payload)
	case wire.MessageLeave:
		next, effs := e.applyConn(ev.Peer, connstate.Event{Kind: connstate.EventDisconnect})
		e.emitConnEffects(ev.Peer, effs)
		e.publishAppEvent(PeerStatusChanged{Peer: ev.Peer, State: next})
	case wire.MessageNoiseHandshake:
		e.handleHandshake(ev.Peer, ev.Transport, pkt.Payload)
	case wire.MessageNoiseEncrypted:
		e.handleMessageReceived(ctx, MessageReceived{Peer: ev.Peer, Transport: ev.Transport, Type: wire.MessageNoiseEncrypted, Payload: pkt.Payload})
	case wire.MessageMessage:
		e.handleMessageReceived(ctx, MessageReceived{Peer: ev.Peer, Transport: ev.Transport, Type: wire.MessageMessage, Payload: pkt.Payload})
	case wire.MessageFragment:
		reassembled, originalType, complete, err := e.reassembler.Add(pkt.Payload)
		if err != nil {
			e.log.Debug().Err(err).Msg("fragment rejected")
			return
		}
		if complete {
			e.handleMessageReceived(ctx, MessageReceived{Peer: ev.Peer, Transport: ev.Transport, Type: originalType, Payload: reassembled})
		}
	}
}

func (e *Engine) handleAnnouncePacket(peer ids.PeerID, payload []byte) {
	ann, err := decodeAnnounce(payload)
	if err != nil {
		e.log.Debug().Err(err).Msg("malformed announce payload")
		return
	}
	fp := ids.FingerprintFromStaticKey(ann.StaticPublicKey[:])
	e.registerPeer(peer, fp)
	e.identities.UpsertCryptographic(fp, ann.StaticPublicKey, ann.SigningPublicKey, ann.HasSigningKey)
	if ann.Nickname != "" {
		e.identities.ModifySocial(fp, func(s *identity.SocialIdentity) { s.ClaimedNickname = ann.Nickname })
	}
}

// handleHandshake advances a peer's Noise handshake. The first inbound
// message for a peer with no session.Manager record makes us the
// responder (session.Manager.Respond); any further message is fed to
// ProcessHandshake, which tracks role internally.
func (e *Engine) handleHandshake(peer ids.PeerID, k transport.Kind, payload []byte) {
	fp, ok := e.fingerprintOf(peer)
	if !ok {
		e.log.Debug().Str("peer", peer.String()).Msg("handshake from peer with no known identity, dropping")
		return
	}
	e.router.UpdateReachability(peer, k)

	if _, exists := e.sessions.StateOf(fp); !exists {
		msg2, err := e.sessions.Respond(fp, payload)
		if err != nil {
			e.failConnection(peer, err)
			return
		}
		if msg2 == nil {
			return
		}
		e.ensureDiscovering(peer)
		e.applyConn(peer, connstate.Event{Kind: connstate.EventPeerDiscovered, Transport: k})
		next, effs := e.applyConn(peer, connstate.Event{Kind: connstate.EventInitiateConnection, Transport: k, SessionParams: connstate.SessionParams{InitiatedByUs: false}})
		e.emitConnEffects(peer, effs)
		e.sendHandshakeBytes(peer, k, msg2)
		e.publishAppEvent(PeerStatusChanged{Peer: peer, State: next})
		return
	}

	next, remoteStatic, completed, err := e.sessions.ProcessHandshake(fp, payload)
	if err != nil {
		e.failConnection(peer, err)
		return
	}
	if next != nil {
		e.sendHandshakeBytes(peer, k, next)
	}
	if completed {
		e.identities.UpsertCryptographic(fp, remoteStatic, [32]byte{}, false)
		sessionID, _ := e.sessions.SessionIDOf(fp)
		nextState, effs := e.applyConn(peer, connstate.Event{Kind: connstate.EventConnectionEstablished, Transport: k, SessionID: sessionID})
		e.emitConnEffects(peer, effs)
		e.publishAppEvent(PeerStatusChanged{Peer: peer, State: nextState})
	}
}

// handleMessageReceived unwraps a complete logical message: decrypting
// NoiseEncrypted frames, or taking MessageMessage content directly, then
// dispatching by application-level payload type.
func (e *Engine) handleMessageReceived(ctx context.Context, ev MessageReceived) {
	if cur, known := e.connStateOf(ev.Peer); known {
		if _, isConnected := cur.(connstate.Connected); isConnected {
			_, effs := e.applyConn(ev.Peer, connstate.Event{Kind: connstate.EventActivityDetected})
			e.emitConnEffects(ev.Peer, effs)
		}
	}

	switch ev.Type {
	case wire.MessageNoiseEncrypted:
		fp, ok := e.fingerprintOf(ev.Peer)
		if !ok {
			e.log.Debug().Str("peer", ev.Peer.String()).Msg("encrypted message from unknown peer, dropping")
			return
		}
		sessionID, nonce, ciphertext, err := wire.DecodeSessionFrame(ev.Payload)
		if err != nil {
			e.log.Debug().Err(err).Msg("malformed session frame")
			return
		}
		plaintext, err := e.sessions.Decrypt(fp, sessionID, nonce, ciphertext)
		if err != nil {
			e.log.Debug().Err(err).Msg("decrypt failed")
			return
		}
		payload, ok := wire.DecodeNoisePayload(plaintext)
		if !ok {
			e.log.Debug().Msg("malformed noise payload")
			return
		}
		e.handleNoisePayload(ctx, ev.Peer, fp, ev.Transport, payload)

	case wire.MessageMessage:
		ts := ids.TimestampFromTime(e.clk.Now())
		seq := e.nextSequence()
		content := string(ev.Payload)
		msgID := store.ComputeMessageID(ev.Peer, ids.ZeroPeerID, false, content, ts, seq)
		msg := &store.Message{ID: msgID, Sender: ev.Peer, Content: content, Timestamp: ts, Sequence: seq}
		if _, err := e.msgStore.Store(msg); err != nil {
			e.log.Debug().Err(err).Msg("failed to store broadcast message")
			return
		}
		e.publishAppEvent(MessageReceivedApp{MessageID: msgID, Sender: ev.Peer, Content: content, Timestamp: ts})
	}
}

func (e *Engine) handleNoisePayload(ctx context.Context, peer ids.PeerID, fp ids.Fingerprint, k transport.Kind, payload wire.NoisePayload) {
	switch payload.Type {
	case wire.NoisePrivateMessage:
		ts := ids.TimestampFromTime(e.clk.Now())
		seq := e.nextSequence()
		content := string(payload.Body)
		msgID := store.ComputeMessageID(peer, e.localPeerID, true, content, ts, seq)
		msg := &store.Message{ID: msgID, Sender: peer, Recipient: e.localPeerID, HasRecipient: true, Content: content, Timestamp: ts, Sequence: seq}
		if _, err := e.msgStore.Store(msg); err != nil {
			e.log.Debug().Err(err).Msg("failed to store private message")
			return
		}
		e.publishAppEvent(MessageReceivedApp{MessageID: msgID, Sender: peer, Content: content, Timestamp: ts})

		ack := wire.EncodeNoisePayload(wire.NoisePayload{Type: wire.NoiseDelivered, Body: msgID[:]})
		if err := e.encryptAndSend(fp, peer, ack); err != nil {
			e.log.Debug().Err(err).Msg("failed to send delivery acknowledgment")
		}

	case wire.NoiseDelivered, wire.NoiseReadReceipt:
		if len(payload.Body) < store.MessageIDSize {
			e.log.Debug().Msg("malformed acknowledgment body")
			return
		}
		var msgID store.MessageID
		copy(msgID[:], payload.Body)
		if err := e.deliveries.Confirm(msgID); err != nil {
			e.log.Debug().Err(err).Msg("delivery confirmation for untracked message")
			return
		}
		status := "delivered"
		if payload.Type == wire.NoiseReadReceipt {
			status = "read"
		}
		e.publishAppEvent(MessageSent{MessageID: msgID, Status: status})

	case wire.NoiseSessionRekey:
		e.handleSessionRekey(peer, fp, payload.Body)

	case wire.NoiseLeave:
		next, effs := e.applyConn(peer, connstate.Event{Kind: connstate.EventDisconnect})
		e.emitConnEffects(peer, effs)
		e.publishAppEvent(PeerStatusChanged{Peer: peer, State: next})
	}
}

// handleSessionRekey drives the in-session Noise XX re-handshake of
// spec.md §4.2/§4.3. The first inbound rekey message on an Active session
// means the peer started a rekey we didn't; everything after that is fed
// to ProcessHandshake, which already tracks role and pending state. Every
// leg travels as a NoiseSessionRekey payload inside the existing
// NoiseEncrypted session, not a bare handshake packet, so the reply goes
// back out through encryptAndSend.
func (e *Engine) handleSessionRekey(peer ids.PeerID, fp ids.Fingerprint, body []byte) {
	state, ok := e.sessions.StateOf(fp)
	if !ok {
		e.log.Debug().Str("peer", peer.String()).Msg("rekey message for unknown session")
		return
	}

	if state == session.StateActive {
		msg2, err := e.sessions.RespondRekey(fp, body)
		if err != nil {
			e.log.Debug().Err(err).Msg("rekey handshake failed")
			return
		}
		reply := wire.EncodeNoisePayload(wire.NoisePayload{Type: wire.NoiseSessionRekey, Body: msg2})
		if err := e.encryptAndSend(fp, peer, reply); err != nil {
			e.log.Debug().Err(err).Msg("failed to send rekey message 2")
		}
		return
	}

	next, _, completed, err := e.sessions.ProcessHandshake(fp, body)
	if err != nil {
		e.log.Debug().Err(err).Msg("rekey handshake failed")
		return
	}
	if next != nil {
		reply := wire.EncodeNoisePayload(wire.NoisePayload{Type: wire.NoiseSessionRekey, Body: next})
		sendErr := e.encryptAndSend(fp, peer, reply)
		if err := e.sessions.FinalizeRekey(fp); err != nil {
			e.log.Debug().Err(err).Msg("failed to finalize rekey")
		}
		if sendErr != nil {
			e.log.Debug().Err(sendErr).Msg("failed to send rekey message 3")
		}
	}
	if completed {
		e.log.Debug().Str("peer", peer.String()).Msg("session rekeyed")
	}
}

// maintenance runs the periodic sweep: expired sessions, delivery
// entries past their deadline or retry cap (reported, not
// retransmitted), rekey-due sessions, identity-cache persistence, and
// a re-announce, per spec.md §4.5/§4.6/§9.
func (e *Engine) maintenance(ctx context.Context) {
	for _, fp := range e.sessions.CleanupExpired() {
		if peer, ok := e.peerOf(fp); ok {
			next, effs := e.applyConn(peer, connstate.Event{Kind: connstate.EventConnectionLost, Reason: "SessionExpired"})
			e.emitConnEffects(peer, effs)
			e.publishAppEvent(PeerStatusChanged{Peer: peer, State: next})
		}
	}

	e.deliveries.Sweep()
	for _, entry := range e.deliveries.Cleanup() {
		if entry.Status == delivery.StatusConfirmed {
			continue
		}
		e.publishAppEvent(MessageSent{MessageID: entry.MessageID, Status: entry.Status.String()})
	}

	for _, fp := range e.allKnownFingerprints() {
		msg, due, err := e.sessions.MaybeRekey(fp)
		if err != nil || !due {
			continue
		}
		if peer, ok := e.peerOf(fp); ok {
			payload := wire.EncodeNoisePayload(wire.NoisePayload{Type: wire.NoiseSessionRekey, Body: msg})
			if err := e.encryptAndSend(fp, peer, payload); err != nil {
				e.log.Debug().Err(err).Str("peer", peer.String()).Msg("failed to send rekey message 1")
			}
		}
	}

	e.identities.Flush()
	e.publishAnnounce(ctx)
}
