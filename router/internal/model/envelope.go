// Package model defines the envelope and message types that flow through the router.
package model

import (
	"net"
	"strconv"
	"time"
)

// NodeRole identifies how a node took part in receiving an envelope.
type NodeRole string

const (
	// RoleServer is a processing node that read the envelope from an input.
	RoleServer NodeRole = "SERVER"
	// RoleRadio is a forwarding node in front of the processing node.
	RoleRadio NodeRole = "RADIO"
)

// SourceNode records one hop an envelope travelled through.
type SourceNode struct {
	Role    NodeRole `json:"role"`
	NodeID  string   `json:"node_id"`
	InputID string   `json:"input_id"`
}

// RemoteAddress is the network peer an envelope was received from.
// Hostname is only meaningful when ReverseLookedUp is set; the router never
// performs a lookup itself.
type RemoteAddress struct {
	IP              string `json:"ip"`
	Port            int    `json:"port,omitempty"`
	Hostname        string `json:"hostname,omitempty"`
	ReverseLookedUp bool   `json:"reverse_looked_up,omitempty"`
}

// String returns the canonical textual form of the address IP.
func (a *RemoteAddress) String() string {
	if ip := net.ParseIP(a.IP); ip != nil {
		return ip.String()
	}
	return a.IP
}

// ParseRemoteAddress parses "host:port" or a bare IP.
func ParseRemoteAddress(s string) (*RemoteAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		if ip := net.ParseIP(s); ip != nil {
			return &RemoteAddress{IP: ip.String()}, nil
		}
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	return &RemoteAddress{IP: host, Port: port}, nil
}

// RawEnvelope is a captured payload plus the transport and codec metadata
// needed to decode it. It is never modified after creation.
type RawEnvelope struct {
	ID            string         `json:"id"`
	CodecName     string         `json:"codec"`
	CodecConfig   map[string]any `json:"codec_config,omitempty"`
	SourceNodes   []SourceNode   `json:"source_nodes,omitempty"`
	RemoteAddress *RemoteAddress `json:"remote_address,omitempty"`
	JournalOffset int64          `json:"journal_offset"`
	ReceivedAt    time.Time      `json:"received_at"`
	Payload       []byte         `json:"payload"`
}

// LastInputID returns the input id of the last source node, which is the
// input on the node currently processing the envelope.
func (e *RawEnvelope) LastInputID() (string, bool) {
	if len(e.SourceNodes) == 0 {
		return "", false
	}
	return e.SourceNodes[len(e.SourceNodes)-1].InputID, true
}

// Event is one pipeline slot. Raw is cleared once decoding finishes.
type Event struct {
	Raw     *RawEnvelope
	Message *Message
}
