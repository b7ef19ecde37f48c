package server

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// handleWatch streams the listing of a collection over a websocket: once on connect and again
// after every change. Messages from the client are ignored; closing the socket ends the watch.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.Close()

	updates, cancel := c.WatchListing()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger := s.logger.With().Str("collection", string(c.Type())).Str("remote", r.RemoteAddr).Logger()
	logger.Debug().Msg("watch opened")
	defer logger.Debug().Msg("watch closed")

	if err := s.send(ws, listingOf(c)); err != nil {
		return
	}

	ping := time.NewTicker(s.ping)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case entries, ok := <-updates:
			if !ok {
				// the view stopped
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "collection stopped"),
					time.Now().Add(writeTimeout))
				return
			}
			l := listing{Collection: c.Type(), Records: entries}
			if err := c.Err(); err != nil {
				l.Error = err.Error()
			}
			if err := s.send(ws, l); err != nil {
				logger.Debug().Err(err).Msg("watch write failed")
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Server) send(ws *websocket.Conn, l listing) error {
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteMessage(websocket.TextMessage, data)
}

