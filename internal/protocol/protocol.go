// Package protocol defines the frames exchanged between the owner, the broker
// and viewers.
//
// On the wire every frame is a WebSocket message and the message type is the
// frame tag: binary messages carry terminal bytes, text messages carry control
// requests. Inside the broker frames travel as Frame values so control
// requests never share a path with terminal data.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

// SessionEndedMarker is the binary payload sent to every viewer exactly once
// when the owner disconnects.
const SessionEndedMarker = "__TSHARE_SESSION_ENDED__"

// resizePrefix starts a resize control message: RESIZE:<cols>:<rows>.
const resizePrefix = "RESIZE:"

type FrameType uint8

const (
	// FrameData carries raw terminal bytes.
	FrameData FrameType = iota + 1
	// FrameResize carries a terminal size: a viewer's request on the way to
	// the owner, the owner's current size on the way to viewers.
	FrameResize
	// FrameEnd signals that the owner is gone and the session is over.
	FrameEnd
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "data"
	case FrameResize:
		return "resize"
	case FrameEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Frame is a single unit moving through a session. Payload is set for data
// frames, Cols and Rows for resize frames.
type Frame struct {
	Type    FrameType
	Payload []byte
	Cols    uint16
	Rows    uint16
}

func DataFrame(data []byte) Frame {
	return Frame{Type: FrameData, Payload: data}
}

func ResizeFrame(cols, rows uint16) Frame {
	return Frame{Type: FrameResize, Cols: cols, Rows: rows}
}

func EndFrame() Frame {
	return Frame{Type: FrameEnd}
}

// Message converts a frame into a WebSocket message type and payload.
func (f Frame) Message() (int, []byte) {
	switch f.Type {
	case FrameResize:
		return websocket.TextMessage, []byte(FormatResize(f.Cols, f.Rows))
	case FrameEnd:
		return websocket.BinaryMessage, []byte(SessionEndedMarker)
	default:
		return websocket.BinaryMessage, f.Payload
	}
}

// FormatResize renders a resize control message.
func FormatResize(cols, rows uint16) string {
	return fmt.Sprintf("%s%d:%d", resizePrefix, cols, rows)
}

// ParseResize parses RESIZE:<cols>:<rows>. Anything else, including
// out-of-range numbers, reports ok=false.
func ParseResize(text string) (cols, rows uint16, ok bool) {
	rest, found := strings.CutPrefix(text, resizePrefix)
	if !found {
		return 0, 0, false
	}
	colText, rowText, found := strings.Cut(rest, ":")
	if !found {
		return 0, 0, false
	}
	c, err := strconv.ParseUint(colText, 10, 16)
	if err != nil {
		return 0, 0, false
	}
	r, err := strconv.ParseUint(rowText, 10, 16)
	if err != nil {
		return 0, 0, false
	}
	return uint16(c), uint16(r), true
}

// viewerControl is the JSON control message browsers send, e.g.
// {"type":"resize","cols":120,"rows":40}.
type viewerControl struct {
	Type string  `json:"type"`
	Cols *uint64 `json:"cols"`
	Rows *uint64 `json:"rows"`
}

// ParseViewerControl interprets a text message received from a viewer. Both
// the JSON form and the literal RESIZE:<cols>:<rows> form are accepted.
// Unknown or malformed control messages report ok=false.
func ParseViewerControl(text []byte) (Frame, bool) {
	if cols, rows, ok := ParseResize(string(text)); ok {
		return ResizeFrame(cols, rows), true
	}

	var msg viewerControl
	if err := json.Unmarshal(text, &msg); err != nil {
		return Frame{}, false
	}
	if msg.Type != "resize" || msg.Cols == nil || msg.Rows == nil {
		return Frame{}, false
	}
	if *msg.Cols > 0xFFFF || *msg.Rows > 0xFFFF {
		return Frame{}, false
	}
	return ResizeFrame(uint16(*msg.Cols), uint16(*msg.Rows)), true
}
