package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	. "github.com/roelfdiedericks/browserd/internal/logging"
)

// Session is a short-lived, low-level connection to a single debugging
// WebSocket endpoint (browser-level or per-tab). It issues one command at a
// time and is used for identity correlation and raw protocol passthrough;
// callers must Close it regardless of success or failure.
type Session struct {
	conn   *websocket.Conn
	nextID int
}

type cdpRequest struct {
	ID     int         `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type cdpResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *cdpError       `json:"error"`
	Method string          `json:"method"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// DialSession opens a low-level session against a webSocketDebuggerUrl.
func DialSession(ctx context.Context, wsURL string) (*Session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, &ProtocolError{Op: "dial " + wsURL, Err: err}
	}
	return &Session{conn: conn, nextID: 1}, nil
}

// Call sends one protocol command and waits for its response, skipping any
// interleaved events. The context deadline bounds the wait.
func (s *Session) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := s.nextID
	s.nextID++

	deadline := time.Now().Add(20 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	_ = s.conn.SetReadDeadline(deadline)

	if err := s.conn.WriteJSON(cdpRequest{ID: id, Method: method, Params: params}); err != nil {
		return nil, &ProtocolError{Op: method, Err: err}
	}

	for {
		var resp cdpResponse
		if err := s.conn.ReadJSON(&resp); err != nil {
			return nil, &ProtocolError{Op: method, Err: err}
		}
		if resp.Method != "" && resp.ID == 0 {
			// Unsolicited event; not ours
			L_trace("session: skipping event", "method", resp.Method)
			continue
		}
		if resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return nil, &ProtocolError{Op: method, Err: fmt.Errorf("%s (code %d)", resp.Error.Message, resp.Error.Code)}
		}
		return resp.Result, nil
	}
}

// TargetInfo issues Target.getTargetInfo and returns the protocol-level
// target id of the page this session is attached to.
func (s *Session) TargetInfo(ctx context.Context) (string, error) {
	raw, err := s.Call(ctx, "Target.getTargetInfo", nil)
	if err != nil {
		return "", err
	}

	var result struct {
		TargetInfo struct {
			TargetID string `json:"targetId"`
		} `json:"targetInfo"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", &ProtocolError{Op: "Target.getTargetInfo", Err: err}
	}
	return result.TargetInfo.TargetID, nil
}

// Close releases the session.
func (s *Session) Close() error {
	return s.conn.Close()
}
