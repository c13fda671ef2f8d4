package pairing

// Outbound event names emitted by this package, on the wire as the frame
// "type" field.
const (
	EventMatched             = "matched"
	EventBlock               = "block"
	EventBlockUserAck        = "block-user"
	EventPartnerDisconnected = "partner-disconnected"
	EventResetPage           = "reset-page"
)

// Matched tells a connection it has been placed in a room. PartnerID is empty
// while the connection waits alone.
type Matched struct {
	PartnerID string `json:"partnerId,omitempty"`
	IsCaller  bool   `json:"isCaller"`
}

type Blocked struct {
	Message string `json:"message"`
}

type BlockAck struct {
	Message string `json:"message"`
}

type PartnerGone struct {
	PeerID string `json:"peerId"`
}

type ResetPage struct{}
