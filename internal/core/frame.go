package core

import "encoding/json"

// Frame is the raw encoded payload written to a transport.
type Frame []byte

// Envelope is the wire format on both channels. Client-issued events that
// expect an acknowledgment carry a non-zero ID; the matching ack echoes it.
type Envelope struct {
	Type string          `json:"type"`
	ID   int64           `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

const EventAck = "ack"

func Encode(event string, v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: event, Data: data})
}

// EncodeAck correlates a reply to the client event that carried id.
func EncodeAck(id int64, v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: EventAck, ID: id, Data: data})
}
