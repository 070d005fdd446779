package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Message types of the stream protocol.
const (
	TypeSubscribe       = "subscribe"
	TypeUnsubscribe     = "unsubscribe"
	TypePing            = "ping"
	TypePong            = "pong"
	TypeNotification    = "transaction-notification"
	TypeSubscriptionAck = "subscription-ack"
	TypeError           = "error"
)

// Envelope is the frame exchanged in both directions. Payload is only set on notifications.
type Envelope struct {
	Type    string          `json:"type"`
	Subject string          `json:"subject,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

// ServerError is an error frame sent by the server.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("stream: server error %d: %s", e.Code, e.Message)
}

// CredentialRelated reports whether the error blames the credential or the request it authorised (4xx codes). Those
// errors mark the credential failed and rotate it.
func (e *ServerError) CredentialRelated() bool {
	return e.Code >= http.StatusBadRequest && e.Code < http.StatusInternalServerError
}

func encode(typ, subject string) []byte {
	b, _ := json.Marshal(Envelope{Type: typ, Subject: subject})

	return b
}
