package signaling

import (
	"encoding/json"
	"errors"
	"io"
)

// Inbound event names. Relay events are emitted to the partner under the
// same name.
const (
	messageTypeJoin         = "join"
	messageTypeOffer        = "offer"
	messageTypeAnswer       = "answer"
	messageTypeICECandidate = "ice-candidate"
	messageTypeChatMessage  = "chat-message"
	messageTypeBlockUser    = "block-user"
	messageTypeLeaveCall    = "leave-call"
	messageTypeError        = "error"
)

// Frame is the envelope for every message in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type joinRequest struct {
	DeviceID string `json:"deviceId"`
}

// relayRequest covers all four relay events. Payload fields are kept raw so
// the relay never interprets SDP, candidates or chat text.
type relayRequest struct {
	PartnerID string          `json:"partnerId"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
}

type blockRequest struct {
	PartnerID string `json:"partnerId"`
}

// SDPMessage is delivered for offer and answer.
type SDPMessage struct {
	SDP      json.RawMessage `json:"sdp"`
	SenderID string          `json:"senderId"`
}

type CandidateMessage struct {
	Candidate json.RawMessage `json:"candidate"`
	SenderID  string          `json:"senderId"`
}

type ChatMessage struct {
	Message  json.RawMessage `json:"message"`
	SenderID string          `json:"senderId"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// relayPayload builds the outbound payload for a relay event. ok is false
// for events that are not relayed.
func relayPayload(event string, req relayRequest, senderID string) (any, bool) {
	switch event {
	case messageTypeOffer, messageTypeAnswer:
		return SDPMessage{SDP: orNull(req.SDP), SenderID: senderID}, true
	case messageTypeICECandidate:
		return CandidateMessage{Candidate: orNull(req.Candidate), SenderID: senderID}, true
	case messageTypeChatMessage:
		return ChatMessage{Message: orNull(req.Message), SenderID: senderID}, true
	default:
		return nil, false
	}
}

var jsonNull = json.RawMessage("null")

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return jsonNull
	}
	return raw
}

func encodeFrame(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Frame{Type: event, Data: raw})
}

// decodeData unmarshals a frame's data into v. A missing data field decodes
// as an empty object so handlers see zero values rather than an error.
func decodeData(f Frame, v any) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return nil
	}
	return json.Unmarshal(f.Data, v)
}

var errMessageTooLarge = errors.New("message too large")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return nil, errMessageTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errMessageTooLarge
	}
	return b, nil
}
