package rointe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Firebase realtime-database wire protocol, the subset Nexa devices use.
// Every frame is {"t":"d","d":{...}}; data payloads carry a request id "r",
// an action "a" and a body "b". A fresh connection is opened per call, which
// keeps the client free of reconnect state at the cost of a handshake per
// operation.

type wsFrame struct {
	T string `json:"t"`
	D wsData `json:"d"`
}

type wsData struct {
	R int             `json:"r,omitempty"`
	A string          `json:"a,omitempty"`
	B json.RawMessage `json:"b,omitempty"`
}

type wsConn struct {
	conn   *websocket.Conn
	nextID int
}

func (c *Client) wsDial(ctx context.Context) (*wsConn, error) {
	wsURL := c.auth.WSURL()
	if wsURL == "" {
		return nil, AuthError{Reason: "no websocket session"}
	}
	dialer := websocket.Dialer{HandshakeTimeout: wsConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsConn{conn: conn, nextID: 1}, nil
}

func (w *wsConn) close() {
	w.conn.Close()
}

// call sends one request frame and reads until the matching response
// arrives. The server interleaves keepalives and initial handshake frames;
// anything without our request id is skipped.
func (w *wsConn) call(ctx context.Context, action string, body any) (map[string]any, error) {
	rawBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	id := w.nextID
	w.nextID++

	frame := wsFrame{T: "d", D: wsData{R: id, A: action, B: rawBody}}
	deadline := time.Now().Add(wsResponseTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	w.conn.SetWriteDeadline(deadline)
	if err := w.conn.WriteJSON(frame); err != nil {
		return nil, fmt.Errorf("websocket write: %w", err)
	}

	w.conn.SetReadDeadline(deadline)
	for {
		var resp map[string]any
		if err := w.conn.ReadJSON(&resp); err != nil {
			return nil, fmt.Errorf("websocket read: %w", err)
		}

		data, ok := resp["d"].(map[string]any)
		if !ok {
			continue
		}
		respID, hasID := toInt(data["r"])
		if !hasID || respID != id {
			continue
		}

		result, ok := data["b"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("response %d: missing body: %w", id, ErrProtocol)
		}
		if status, _ := result["s"].(string); status != "" && status != "ok" {
			return nil, fmt.Errorf("rointe: websocket call %s failed: %s", action, status)
		}
		return result, nil
	}
}

// authenticate sends the credential frame every fresh connection needs
// before it will serve reads or writes.
func (w *wsConn) authenticate(ctx context.Context, token string) error {
	_, err := w.call(ctx, "auth", map[string]any{"cred": token})
	if err != nil {
		return fmt.Errorf("websocket auth: %w", err)
	}
	return nil
}

// wsRead fetches the value at a database path ("g" action).
func (c *Client) wsRead(ctx context.Context, path string) (any, error) {
	token := c.auth.Token()
	if token == "" {
		return nil, AuthError{Reason: "not logged in"}
	}

	conn, err := c.wsDial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.close()

	if err := conn.authenticate(ctx, token); err != nil {
		return nil, err
	}

	result, err := conn.call(ctx, "g", map[string]any{"p": path})
	if err != nil {
		return nil, err
	}
	return result["d"], nil
}

// wsWrite merges fields into a device's data node ("p" action). Fields are
// serialized in a fixed order because the firmware applies them
// sequentially: setpoints before status, status before mode, power last.
func (c *Client) wsWrite(ctx context.Context, deviceKey string, fields map[string]any) error {
	token := c.auth.Token()
	if token == "" {
		return AuthError{Reason: "not logged in"}
	}

	conn, err := c.wsDial(ctx)
	if err != nil {
		return err
	}
	defer conn.close()

	if err := conn.authenticate(ctx, token); err != nil {
		return err
	}

	body := orderedWriteBody(fields)

	path := "/devices/" + deviceKey + "/data"
	_, err = conn.call(ctx, "p", json.RawMessage(
		`{"p":`+mustJSON(path)+`,"d":{`+joinFields(body)+`}}`))
	if err != nil {
		return fmt.Errorf("device %s: %w", deviceKey, err)
	}
	return nil
}

// nexaWrite normalizes field types before handing them to the websocket:
// temperatures become floats, mode and power become ints, status is only
// forwarded when it is off or none.
func (c *Client) nexaWrite(ctx context.Context, deviceKey string, fields map[string]any) error {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		switch key {
		case "temp", "comfort", "eco", "ice", "um_min_temp", "um_max_temp":
			if f, ok := toFloat(value); ok {
				out[key] = f
			}
		case "mode":
			out[key] = nexaModeValue(value)
		case "power":
			out[key] = nexaPowerValue(value)
		case "status":
			if s, _ := value.(string); s == PresetOff || s == PresetNone {
				out[key] = s
			}
		default:
			out[key] = value
		}
	}
	if len(out) == 0 {
		return fmt.Errorf("device %s: nothing to write", deviceKey)
	}
	return c.wsWrite(ctx, deviceKey, out)
}

func nexaModeValue(value any) int {
	switch v := value.(type) {
	case string:
		if v == ModeAuto || v == "1" {
			return 1
		}
		return 0
	default:
		if n, ok := toInt(v); ok {
			return n
		}
		return 0
	}
}

func nexaPowerValue(value any) int {
	switch v := value.(type) {
	case bool:
		if v {
			return 2
		}
		return 1
	default:
		if n, ok := toInt(v); ok {
			return n
		}
		return 1
	}
}

// orderedWriteBody emits fields in the order the firmware expects.
func orderedWriteBody(fields map[string]any) []string {
	order := []string{"temp", "comfort", "eco", "ice", "um_min_temp", "um_max_temp", "status", "mode", "power"}
	var out []string
	seen := make(map[string]bool, len(fields))
	for _, key := range order {
		if value, ok := fields[key]; ok {
			out = append(out, jsonField(key, value))
			seen[key] = true
		}
	}
	for key, value := range fields {
		if !seen[key] {
			out = append(out, jsonField(key, value))
		}
	}
	return out
}

func jsonField(key string, value any) string {
	return mustJSON(key) + ":" + mustJSON(value)
}

func joinFields(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
