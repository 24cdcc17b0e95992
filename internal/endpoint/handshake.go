package endpoint

import (
	"github.com/mobsya/thymio-broker/internal/logging"
	"github.com/mobsya/thymio-broker/internal/wire"
)

// handshake reads the connection's first frame, which must be a
// ConnectionHandshake, and always answers with one back — even on a
// version mismatch or a rejected token — before deciding whether to
// keep the connection open. A client that gets a handshake reply but
// then has the socket closed on it can tell a protocol-level rejection
// from a transport failure.
func (ep *Endpoint) handshake() bool {
	payload, err := ep.conn.ReadFrame(ep.ctx, wire.DefaultMaxMessageSize)
	if err != nil {
		logging.Default().Warnf("endpoint %s: handshake read failed: %v", ep.conn.RemoteAddr(), err)
		return false
	}
	msg, err := wire.Decode(payload)
	if err != nil {
		logging.Default().Warnf("endpoint %s: handshake decode failed: %v", ep.conn.RemoteAddr(), err)
		return false
	}
	req, ok := msg.(wire.ConnectionHandshake)
	if !ok {
		logging.Default().Warnf("endpoint %s: first message was %s, not ConnectionHandshake", ep.conn.RemoteAddr(), msg.Kind())
		return false
	}

	versionOK := req.ProtocolVersion >= MinSupportedProtocolVersion && ProtocolVersion >= req.MinProtocolVersion
	tokenOK := ep.conn.IsLocal() || !ep.cfg.RequireTokenForRemote || ep.tok.CheckToken(req.Token)

	// Disjoint version ranges get protocolVersion=0 back, per the
	// handshake's version-mismatch signal; anything else negotiates
	// down to the lower of the two maxima.
	negotiated := uint16(0)
	if versionOK {
		negotiated = req.ProtocolVersion
		if ProtocolVersion < negotiated {
			negotiated = ProtocolVersion
		}
	}

	ep.send(wire.ConnectionHandshake{
		ProtocolVersion:    negotiated,
		MinProtocolVersion: MinSupportedProtocolVersion,
		MaxMessageSize:     ep.cfg.MaxMessageSize,
	})

	if !versionOK {
		logging.Default().Warnf("endpoint %s: protocol version mismatch (client %d, server %d)", ep.conn.RemoteAddr(), req.ProtocolVersion, ProtocolVersion)
		return false
	}
	if !tokenOK {
		logging.Default().Warnf("endpoint %s: rejected, invalid token for remote connection", ep.conn.RemoteAddr())
		return false
	}

	snaps := ep.reg.List()
	nodes := make([]wire.NodeInfo, len(snaps))
	for i, s := range snaps {
		nodes[i] = ep.toNodeInfo(s)
	}
	ep.send(wire.NodesChanged{Nodes: nodes})
	return true
}
