package protocol

import (
	"testing"

	"github.com/gorilla/websocket"
)

func TestParseResize(t *testing.T) {
	tests := []struct {
		in       string
		wantCols uint16
		wantRows uint16
		wantOK   bool
	}{
		{"RESIZE:120:40", 120, 40, true},
		{"RESIZE:0:0", 0, 0, true},
		{"RESIZE:65535:65535", 65535, 65535, true},
		{"RESIZE:65536:10", 0, 0, false},
		{"RESIZE:120", 0, 0, false},
		{"RESIZE:120:40:1", 0, 0, false},
		{"RESIZE:-1:40", 0, 0, false},
		{"RESIZE:abc:40", 0, 0, false},
		{"resize:120:40", 0, 0, false},
		{"hello", 0, 0, false},
		{"", 0, 0, false},
	}

	for _, tt := range tests {
		cols, rows, ok := ParseResize(tt.in)
		if ok != tt.wantOK || cols != tt.wantCols || rows != tt.wantRows {
			t.Errorf("ParseResize(%q) = (%d, %d, %v), want (%d, %d, %v)",
				tt.in, cols, rows, ok, tt.wantCols, tt.wantRows, tt.wantOK)
		}
	}
}

func TestFormatResizeRoundTrip(t *testing.T) {
	text := FormatResize(132, 43)
	if text != "RESIZE:132:43" {
		t.Fatalf("FormatResize = %q", text)
	}
	cols, rows, ok := ParseResize(text)
	if !ok || cols != 132 || rows != 43 {
		t.Fatalf("ParseResize(%q) = (%d, %d, %v)", text, cols, rows, ok)
	}
}

func TestParseViewerControl(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   Frame
		wantOK bool
	}{
		{"JSON", `{"type":"resize","cols":100,"rows":30}`, ResizeFrame(100, 30), true},
		{"Literal", "RESIZE:80:24", ResizeFrame(80, 24), true},
		{"MissingRows", `{"type":"resize","cols":100}`, Frame{}, false},
		{"OtherType", `{"type":"ping"}`, Frame{}, false},
		{"TooLarge", `{"type":"resize","cols":70000,"rows":30}`, Frame{}, false},
		{"Negative", `{"type":"resize","cols":-1,"rows":30}`, Frame{}, false},
		{"NotJSON", "ls -la", Frame{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseViewerControl([]byte(tt.in))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got.Type != tt.want.Type || got.Cols != tt.want.Cols || got.Rows != tt.want.Rows {
				t.Errorf("frame = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFrameMessage(t *testing.T) {
	mt, payload := DataFrame([]byte("RESIZE:1:2")).Message()
	if mt != websocket.BinaryMessage || string(payload) != "RESIZE:1:2" {
		t.Errorf("data frame encoded as (%d, %q); data must stay binary", mt, payload)
	}

	mt, payload = ResizeFrame(80, 24).Message()
	if mt != websocket.TextMessage || string(payload) != "RESIZE:80:24" {
		t.Errorf("resize frame encoded as (%d, %q)", mt, payload)
	}

	mt, payload = EndFrame().Message()
	if mt != websocket.BinaryMessage || string(payload) != SessionEndedMarker {
		t.Errorf("end frame encoded as (%d, %q)", mt, payload)
	}
}
