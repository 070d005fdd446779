package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

// Close codes used by the connection.
const (
	CloseNormalClosure = websocket.CloseNormalClosure
	CloseGoingAway     = websocket.CloseGoingAway
)

// DefaultTokenParam is the query parameter carrying the credential.
const DefaultTokenParam = "api-key"

const writeWait = 10 * time.Second

// ErrUnauthorized is returned by a Dialer when the server rejects the credential during the handshake.
var ErrUnauthorized = errors.New("stream: credential rejected")

// CloseError is returned by Transport.ReadMessage when the peer closed the connection with a close frame.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("stream: closed with code %d (%s)", e.Code, e.Text)
}

// Transport is one live socket. ReadMessage is called from a single goroutine; WriteMessage calls are serialised by
// the connection.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

// Dialer opens a transport authenticated with token. Returning implies the handshake was acknowledged.
type Dialer interface {
	Dial(ctx context.Context, token string) (Transport, error)
}

// WSDialer dials websocket endpoints, passing the credential as a query parameter.
type WSDialer struct {
	URL              string
	TokenParam       string
	HandshakeTimeout time.Duration
	Header           http.Header
}

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context, token string) (Transport, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, errors.Annotatef(err, "stream: bad url %q", d.URL)
	}

	param := d.TokenParam
	if param == "" {
		param = DefaultTokenParam
	}

	q := u.Query()
	q.Set(param, token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.Annotatef(ErrUnauthorized, "handshake status %d", resp.StatusCode)
		}

		return nil, errors.Trace(err)
	}

	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: ce.Code, Text: ce.Text}
		}

		return nil, err
	}

	return data, nil
}

func (t *wsTransport) WriteMessage(data []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))

	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close(code int, reason string) error {
	var err error

	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = t.conn.Close()
	})

	return err
}
