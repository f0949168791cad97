package edge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/hackclub/tshare/internal/ws"
)

var errPeerClosed = errors.New("peer closed")

// pipe relays messages between a browser and its broker stream until either
// side goes away. Message types and close codes are carried across; payloads
// are never inspected.
func pipe(ctx context.Context, browser, upstream *websocket.Conn, ka ws.Keepalive) error {
	browser.SetReadLimit(ka.ReadLimit)
	browser.SetReadDeadline(time.Now().Add(ka.PongWait))
	browser.SetPongHandler(func(string) error {
		return browser.SetReadDeadline(time.Now().Add(ka.PongWait))
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return copyMessages(upstream, browser, websocket.CloseGoingAway, ka.WriteWait)
	})
	g.Go(func() error {
		return copyMessages(browser, upstream, websocket.CloseInternalServerErr, ka.WriteWait)
	})
	g.Go(func() error {
		ticker := time.NewTicker(ka.PingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := browser.WriteControl(websocket.PingMessage, nil, time.Now().Add(ka.WriteWait)); err != nil {
					return fmt.Errorf("ping browser: %w", err)
				}
			}
		}
	})

	err := g.Wait()
	browser.Close()
	upstream.Close()
	if errors.Is(err, errPeerClosed) {
		return nil
	}
	return err
}

// copyMessages forwards every message read from src to dst. When src ends,
// its close frame is replayed on dst; a connection lost without a close frame
// is reported to dst with lostCode.
func copyMessages(dst, src *websocket.Conn, lostCode int, writeWait time.Duration) error {
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			forwardClose(dst, err, lostCode, writeWait)
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return errPeerClosed
			}
			return err
		}
		dst.SetWriteDeadline(time.Now().Add(writeWait))
		if err := dst.WriteMessage(mt, data); err != nil {
			src.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			src.SetReadDeadline(time.Now().Add(writeWait))
			return fmt.Errorf("forward message: %w", err)
		}
	}
}

func forwardClose(dst *websocket.Conn, err error, lostCode int, writeWait time.Duration) {
	code, reason := lostCode, ""
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code, reason = ce.Code, ce.Text
	}
	switch code {
	case websocket.CloseNoStatusReceived:
		code = websocket.CloseNormalClosure
	case websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		code = lostCode
	}
	dst.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	// The other direction ends once dst answers the close or stops talking.
	dst.SetReadDeadline(time.Now().Add(writeWait))
}
