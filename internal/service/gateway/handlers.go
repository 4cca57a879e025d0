package gateway

import (
	"context"

	"go.uber.org/zap"

	"veilchat/internal/cryptographic/codec"
	"veilchat/internal/cryptographic/dh"
	"veilchat/internal/cryptographic/signature"
	"veilchat/internal/model"
	"veilchat/internal/utils/log"
)

func (g *Gateway) handleJoin(ctx context.Context, c *Client, f *model.Frame) bool {
	if f.ConvID == "" {
		g.sendError(c, model.NewError(model.KindProtocolViolation, "join requires conv_id"), "")
		return true
	}

	ok, err := g.membership.IsMember(ctx, c.UserID, f.ConvID)
	if err != nil {
		g.sendError(c, model.WrapError(model.KindTransientStorage, "membership check", err), "")
		return true
	}
	if !ok {
		g.sendError(c, model.NewError(model.KindProtocolViolation, "not a member of room "+f.ConvID), "")
		return true
	}

	c.joinRoom(f.ConvID)
	g.mu.Lock()
	if g.rooms[f.ConvID] == nil {
		g.rooms[f.ConvID] = make(map[string]*Client)
	}
	g.rooms[f.ConvID][c.ConnID] = c
	g.mu.Unlock()

	g.broadcast(f.ConvID, &model.Frame{
		Type:     model.FramePresence,
		ConvID:   f.ConvID,
		Presence: model.PresenceOnline,
		DeviceID: c.DeviceID,
	}, c.ConnID)

	log.Debug("joined room", zap.String("conn_id", c.ConnID), zap.String("room_id", f.ConvID))
	return true
}

func (g *Gateway) handleLeave(c *Client, f *model.Frame) bool {
	if f.ConvID == "" || !c.inRoom(f.ConvID) {
		return true
	}

	c.leaveRoom(f.ConvID)
	g.mu.Lock()
	if members, ok := g.rooms[f.ConvID]; ok {
		delete(members, c.ConnID)
		if len(members) == 0 {
			delete(g.rooms, f.ConvID)
		}
	}
	g.mu.Unlock()

	g.broadcast(f.ConvID, &model.Frame{
		Type:     model.FramePresence,
		ConvID:   f.ConvID,
		Presence: model.PresenceOffline,
		DeviceID: c.DeviceID,
	}, c.ConnID)
	return true
}

func (g *Gateway) handleMessage(ctx context.Context, c *Client, f *model.Frame) bool {
	if f.ConvID == "" || f.MsgID == "" {
		g.sendError(c, model.NewError(model.KindProtocolViolation, "message requires conv_id and msg_id"), f.MsgID)
		return true
	}
	if !c.inRoom(f.ConvID) {
		g.sendError(c, model.NewError(model.KindProtocolViolation, "message for unjoined room "+f.ConvID), f.MsgID)
		return true
	}

	seen, err := g.dedupe.CheckAndRemember(ctx, f.MsgID, g.opts.IdempotencyWindow)
	if err != nil {
		g.sendError(c, model.WrapError(model.KindTransientStorage, "idempotency ledger", err), f.MsgID)
		return true
	}
	if seen {
		// Not an error: the client lost our ack and retransmitted. Report
		// the original outcome.
		c.enqueue(&model.Frame{
			Type:   model.FrameAck,
			ConvID: f.ConvID,
			MsgID:  f.MsgID,
			Status: model.StatusDuplicate,
		})
		return true
	}

	dev, err := g.devices.GetDeviceIdentity(ctx, c.DeviceID)
	if err != nil {
		g.releaseDedupe(ctx, f.MsgID)
		g.sendError(c, model.WrapError(model.KindTransientStorage, "device lookup", err), f.MsgID)
		return true
	}
	if dev == nil || dev.Revoked {
		g.sendError(c, model.NewError(model.KindAuthFailure, "device revoked or unknown"), f.MsgID)
		c.closeWith(CloseAuthFailure, "re-authenticate")
		return false
	}

	secret, err := dh.X25519SharedSecret(g.serverPriv[:], dev.X25519Pub)
	if err != nil {
		g.sendError(c, model.WrapError(model.KindAuthFailure, "key agreement", err), f.MsgID)
		c.closeWith(CloseAuthFailure, "re-authenticate")
		return false
	}

	lease, err := g.sessions.GetOrRotate(f.ConvID, c.DeviceID, secret)
	if err != nil {
		g.releaseDedupe(ctx, f.MsgID)
		g.sendError(c, model.WrapError(model.KindTransientStorage, "session key", err), f.MsgID)
		return true
	}
	if lease.Rotated {
		// The previous epoch's key is dead; its nonce set is no longer
		// needed and would otherwise grow for the process lifetime.
		if old, err := g.sessions.KeyAt(f.ConvID, secret, lease.Index-1); err == nil {
			g.guard.Retire(old)
		}
	}

	// A repeated nonce under a live key voids the AEAD's guarantees; the
	// connection is torn down, never silently continued.
	if len(f.Nonce) > 0 {
		if err := g.guard.Observe(lease.Key, f.Nonce); err != nil {
			log.Error("nonce reuse detected",
				zap.String("conn_id", c.ConnID),
				zap.String("conv_id", f.ConvID),
				zap.String("msg_id", f.MsgID))
			g.sendError(c, err, f.MsgID)
			c.closeWith(1008, "integrity failure")
			return false
		}
	}

	env := &model.Envelope{
		MsgID:          f.MsgID,
		ConvID:         f.ConvID,
		SenderDeviceID: c.DeviceID,
		SenderUserID:   c.UserID,
		Ciphertext:     f.Cipher,
		Nonce:          f.Nonce,
		KeyIndex:       lease.Index,
	}
	if f.AD != nil {
		env.AD = *f.AD
	}
	if env.AD.Timestamp == 0 {
		env.AD.Timestamp = g.now().UnixMilli()
	}
	if env.AD.Type == "" {
		env.AD.Type = model.EnvelopeTypeText
	}

	if err := g.envelopes.Append(ctx, env); err != nil {
		// Nothing was stored, so the dedupe reservation must go too or the
		// client's retry would be answered duplicate with no envelope
		// behind it. The retransmission carries the same nonce, so that
		// observation is released as well. The append path itself never
		// retries, or the leaf below could be duplicated.
		g.releaseDedupe(ctx, f.MsgID)
		if len(f.Nonce) > 0 {
			g.guard.Forget(lease.Key, f.Nonce)
		}
		g.sendError(c, model.WrapError(model.KindTransientStorage, "persist envelope", err), f.MsgID)
		return true
	}

	leafBytes, err := codec.Canonicalize(env.LeafContent())
	if err != nil {
		g.sendError(c, model.WrapError(model.KindIntegrityFailure, "canonicalize envelope", err), f.MsgID)
		return true
	}
	index, _, err := g.tlog.Append(ctx, codec.Hash(leafBytes))
	if err != nil {
		// The leaf is in the tree; only STH persistence failed. Delivery
		// proceeds, the audit history catches up on the next append.
		log.Error("sth record failed", zap.String("msg_id", f.MsgID), zap.Error(err))
	}
	env.TreeIndex = index

	c.enqueue(&model.Frame{
		Type:      model.FrameAck,
		ConvID:    f.ConvID,
		MsgID:     f.MsgID,
		Status:    model.StatusDelivered,
		TreeIndex: index,
	})

	out := &model.Frame{
		Type:      model.FrameMessage,
		ConvID:    f.ConvID,
		MsgID:     f.MsgID,
		Cipher:    env.Ciphertext,
		Nonce:     env.Nonce,
		AD:        &env.AD,
		KeyIndex:  lease.Index,
		TreeIndex: index,
	}
	if lease.Rotated {
		out.RotateKey = true
		out.NewSessionKey = g.serverPub[:]
	}
	g.broadcast(f.ConvID, out, c.ConnID)
	return true
}

func (g *Gateway) handleAck(ctx context.Context, c *Client, f *model.Frame) bool {
	if f.MsgID == "" || (f.AckType != model.AckDelivered && f.AckType != model.AckRead) {
		g.sendError(c, model.NewError(model.KindProtocolViolation, "bad ack"), f.MsgID)
		return true
	}

	rec := &model.AckRecord{
		MsgID:     f.MsgID,
		DeviceID:  c.DeviceID,
		AckType:   f.AckType,
		Timestamp: g.now().UnixMilli(),
	}
	if err := g.acks.Record(ctx, rec); err != nil {
		g.sendError(c, model.WrapError(model.KindTransientStorage, "record ack", err), f.MsgID)
		return true
	}

	// Keep read state consistent across the user's other devices.
	g.sendToUser(ctx, c.UserID, &model.Frame{
		Type:     model.FrameAck,
		ConvID:   f.ConvID,
		MsgID:    f.MsgID,
		AckType:  f.AckType,
		DeviceID: c.DeviceID,
	}, c.ConnID)
	return true
}

func (g *Gateway) handleEdit(ctx context.Context, c *Client, f *model.Frame) bool {
	if f.MsgID == "" || len(f.Cipher) == 0 {
		g.sendError(c, model.NewError(model.KindProtocolViolation, "edit requires msg_id and cipher"), f.MsgID)
		return true
	}

	env, err := g.envelopes.Get(ctx, f.MsgID)
	if err != nil {
		g.sendError(c, model.WrapError(model.KindTransientStorage, "load envelope", err), f.MsgID)
		return true
	}
	if env == nil || env.Deleted {
		g.sendError(c, model.NewError(model.KindProtocolViolation, "no such message"), f.MsgID)
		return true
	}
	if env.SenderDeviceID != c.DeviceID {
		g.sendError(c, model.NewError(model.KindProtocolViolation, "only the sender may edit"), f.MsgID)
		return true
	}
	if g.now().UnixMilli()-env.AD.Timestamp >= g.opts.EditWindow.Milliseconds() {
		g.sendError(c, model.NewError(model.KindProtocolViolation, "edit window expired"), f.MsgID)
		return true
	}

	if err := g.envelopes.MarkEdited(ctx, f.MsgID, f.Cipher, f.Nonce); err != nil {
		g.sendError(c, model.WrapError(model.KindTransientStorage, "mark edited", err), f.MsgID)
		return true
	}

	g.broadcast(env.ConvID, &model.Frame{
		Type:   model.FrameEdit,
		ConvID: env.ConvID,
		MsgID:  f.MsgID,
		Cipher: f.Cipher,
		Nonce:  f.Nonce,
	}, c.ConnID)
	return true
}

func (g *Gateway) handleDelete(ctx context.Context, c *Client, f *model.Frame) bool {
	if f.MsgID == "" {
		g.sendError(c, model.NewError(model.KindProtocolViolation, "delete requires msg_id"), f.MsgID)
		return true
	}

	env, err := g.envelopes.Get(ctx, f.MsgID)
	if err != nil {
		g.sendError(c, model.WrapError(model.KindTransientStorage, "load envelope", err), f.MsgID)
		return true
	}
	if env == nil {
		g.sendError(c, model.NewError(model.KindProtocolViolation, "no such message"), f.MsgID)
		return true
	}

	if !f.ForEveryone {
		// Local hide only: no signature, no broadcast.
		if err := g.envelopes.MarkHidden(ctx, f.MsgID, c.DeviceID); err != nil {
			g.sendError(c, model.WrapError(model.KindTransientStorage, "mark hidden", err), f.MsgID)
			return true
		}
		c.enqueue(&model.Frame{Type: model.FrameDelete, ConvID: env.ConvID, MsgID: f.MsgID})
		return true
	}

	if env.SenderDeviceID != c.DeviceID {
		g.sendError(c, model.NewError(model.KindProtocolViolation, "only the sender may delete for everyone"), f.MsgID)
		return true
	}

	// A global delete must be signed by the sender's long-term identity
	// key, so a hijacked session alone cannot forge it.
	dev, err := g.devices.GetDeviceIdentity(ctx, c.DeviceID)
	if err != nil || dev == nil {
		g.sendError(c, model.WrapError(model.KindTransientStorage, "device lookup", err), f.MsgID)
		return true
	}
	if len(f.Signature) == 0 || !signature.ED25519Verify(dev.Ed25519Pub, []byte("delete:"+f.MsgID), f.Signature) {
		g.sendError(c, model.NewError(model.KindProtocolViolation, "missing or invalid delete signature"), f.MsgID)
		return true
	}

	if err := g.envelopes.MarkDeleted(ctx, f.MsgID); err != nil {
		g.sendError(c, model.WrapError(model.KindTransientStorage, "mark deleted", err), f.MsgID)
		return true
	}

	out := &model.Frame{
		Type:        model.FrameDelete,
		ConvID:      env.ConvID,
		MsgID:       f.MsgID,
		ForEveryone: true,
	}
	g.broadcast(env.ConvID, out, c.ConnID)
	c.enqueue(out)
	return true
}
