package ws

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hackclub/tshare/internal/api"
	"github.com/hackclub/tshare/internal/protocol"
	"github.com/hackclub/tshare/internal/session"
)

func (s *Server) handleOwner(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		api.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	attachment, err := sess.AttachOwner()
	switch {
	case errors.Is(err, session.ErrSessionEnded):
		api.RespondError(w, http.StatusGone, "session ended")
		return
	case errors.Is(err, session.ErrOwnerAttached):
		api.RespondError(w, http.StatusConflict, "owner already connected")
		return
	case err != nil:
		api.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		attachment.Detach()
		s.log.Warn().Err(err).Str("session_id", sess.ID()).Msg("owner upgrade failed")
		return
	}

	log := s.log.With().Str("module", "owner").Str("session_id", sess.ID()).Logger()
	log.Info().Str("remote", r.RemoteAddr).Msg("owner connected")
	s.relayOwner(sess, attachment, conn, log)
}

// relayOwner pumps terminal output from the owner into the session and
// viewer input back to the owner. It returns once the owner is gone and the
// session has been ended.
func (s *Server) relayOwner(sess *session.Session, attachment *session.OwnerAttachment, conn *websocket.Conn, log zerolog.Logger) {
	p := newPeer(conn, s.keepalive)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		if err := s.ownerWriteLoop(p, attachment, done); err != nil {
			log.Debug().Err(err).Msg("owner write loop stopped")
			conn.Close()
		}
	}()

	var published int64
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if isNormalClose(err) {
				log.Info().Msg("owner disconnected")
			} else {
				log.Info().Err(err).Msg("owner connection lost")
			}
			break
		}

		switch mt {
		case websocket.BinaryMessage:
			if err := sess.Publish(data); err != nil {
				log.Warn().Err(err).Msg("publish failed")
			}
			published += int64(len(data))
		case websocket.TextMessage:
			cols, rows, ok := protocol.ParseResize(string(data))
			if !ok {
				log.Debug().Int("bytes", len(data)).Msg("ignoring unknown owner control message")
				continue
			}
			sess.SetTerminalSize(cols, rows)
			log.Debug().Uint16("cols", cols).Uint16("rows", rows).Msg("owner terminal resized")
		}
	}

	if sess.End() {
		log.Info().Int64("bytes_published", published).Int("viewers", sess.Viewers()).Msg("session ended")
	}
	attachment.Detach()
	close(done)
	<-writerDone
	conn.Close()
}

func (s *Server) ownerWriteLoop(p *peer, attachment *session.OwnerAttachment, done <-chan struct{}) error {
	ticker := time.NewTicker(s.keepalive.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case f := <-attachment.Input():
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
