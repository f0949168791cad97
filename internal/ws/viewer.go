package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hackclub/tshare/internal/api"
	"github.com/hackclub/tshare/internal/auth"
	"github.com/hackclub/tshare/internal/protocol"
	"github.com/hackclub/tshare/internal/session"
)

const (
	closeReasonEnded  = "session ended"
	closeReasonLagged = "viewer too slow"
)

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		api.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	class := auth.ParseClass(r.URL.Query().Get("user_type"))
	writable := class.Writable(sess.Credentials().GuestsReadOnly)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID()).Msg("viewer upgrade failed")
		return
	}

	log := s.log.With().
		Str("module", "viewer").
		Str("session_id", sess.ID()).
		Str("class", string(class)).
		Logger()
	log.Info().Str("remote", r.RemoteAddr).Bool("writable", writable).Msg("viewer connected")
	s.relayViewer(sess, writable, conn, log)
}

// relayViewer streams the session to one viewer: the owner's terminal size
// and the history snapshot first, then live frames. Input from the viewer is forwarded to the owner when
// writable is set; resize requests are always forwarded.
func (s *Server) relayViewer(sess *session.Session, writable bool, conn *websocket.Conn, log zerolog.Logger) {
	sub, snapshot := sess.Subscribe()
	// later size changes arrive on the subscription
	cols, rows := sess.TerminalSize()
	p := newPeer(conn, s.keepalive)

	ctx, cancel := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		if err := s.viewerWriteLoop(ctx, p, sub, cols, rows, snapshot); err != nil {
			log.Debug().Err(err).Msg("viewer write loop stopped")
			conn.Close()
		}
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if isNormalClose(err) {
				log.Info().Msg("viewer disconnected")
			} else {
				log.Debug().Err(err).Msg("viewer connection closed")
			}
			break
		}

		var frame protocol.Frame
		switch mt {
		case websocket.BinaryMessage:
			if !writable {
				continue
			}
			frame = protocol.DataFrame(data)
		case websocket.TextMessage:
			f, ok := protocol.ParseViewerControl(data)
			if !ok {
				log.Debug().Int("bytes", len(data)).Msg("ignoring unknown viewer control message")
				continue
			}
			frame = f
		default:
			continue
		}

		if err := sess.SendInput(ctx, frame); err != nil && !errors.Is(err, session.ErrNoOwner) {
			break
		}
	}

	cancel()
	sub.Close()
	<-writerDone
	conn.Close()
}

func (s *Server) viewerWriteLoop(ctx context.Context, p *peer, sub *session.Subscription, cols, rows uint16, snapshot []byte) error {
	if cols > 0 && rows > 0 {
		mt, payload := protocol.ResizeFrame(cols, rows).Message()
		if err := p.write(mt, payload); err != nil {
			return fmt.Errorf("write terminal size: %w", err)
		}
	}
	if len(snapshot) > 0 {
		if err := p.write(websocket.BinaryMessage, snapshot); err != nil {
			return fmt.Errorf("write history: %w", err)
		}
	}

	ticker := time.NewTicker(s.keepalive.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-sub.Frames():
			if !ok {
				switch {
				case sub.Lagged():
					p.closeWith(websocket.ClosePolicyViolation, closeReasonLagged)
				case sub.Ended():
					return endViewer(p)
				}
				return nil
			}
			if f.Type == protocol.FrameEnd {
				return endViewer(p)
			}
			mt, payload := f.Message()
			if err := p.write(mt, payload); err != nil {
				return fmt.Errorf("write %s: %w", f.Type, err)
			}
		case <-ticker.C:
			if err := p.ping(); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// endViewer sends the end marker followed by a normal close.
func endViewer(p *peer) error {
	mt, payload := protocol.EndFrame().Message()
	if err := p.write(mt, payload); err != nil {
		return fmt.Errorf("write end: %w", err)
	}
	p.closeWith(websocket.CloseNormalClosure, closeReasonEnded)
	return nil
}
