// Package ws serves chat panels over WebSocket. Each connection attaches to
// the bridge named by its panel query parameter; webview messages drive the
// bridge and bridge events are sent back as webview messages.
package ws

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gorilla/websocket"
	"github.com/m4xw311/chatbridge/bridge"
	"github.com/m4xw311/chatbridge/panel"
	"github.com/rs/zerolog"
)

// DefaultPanel is the panel identity used when a connection names none.
const DefaultPanel = "default"

const (
	writeWait  = 10 * time.Second
	outboxSize = 256
)

// Panels hands out the controller for a panel identity, starting it on first
// use.
type Panels interface {
	Open(ctx context.Context, id string) (panel.Controller, error)
}

// Registry adapts a bridge.Registry to Panels.
type Registry struct {
	*bridge.Registry
}

// Open returns the bridge for id and starts it when it was just created.
func (r Registry) Open(ctx context.Context, id string) (panel.Controller, error) {
	b, created := r.Registry.Open(id)
	if created {
		if err := b.Start(ctx); err != nil {
			return b, err
		}
	}
	return b, nil
}

// Server is an http.Handler for panel connections.
type Server struct {
	panels Panels
	docs   panel.Documents
	log    zerolog.Logger
	// ctx outlives single requests; bridges started by a connection keep
	// running after it closes so a reloaded panel finds its conversation.
	ctx      context.Context
	origins  []string
	upgrader websocket.Upgrader
}

// NewServer creates a handler serving panels. docs may be nil.
//
// Browser connections are accepted from the server's own host and from
// loopback hosts. allowedOrigins adds more, either exact origins or glob
// patterns such as "vscode-webview://*".
func NewServer(ctx context.Context, panels Panels, docs panel.Documents, allowedOrigins []string, log zerolog.Logger) *Server {
	s := &Server{panels: panels, docs: docs, log: log, ctx: ctx, origins: allowedOrigins}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// checkOrigin accepts browser requests from an accepted origin. Requests
// without an Origin header do not come from a web page and pass.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
		if ok, err := doublestar.Match(allowed, origin); err == nil && ok {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		s.log.Warn().Str("origin", origin).Msg("rejected connection from unknown origin")
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	s.log.Warn().Str("origin", origin).Msg("rejected connection from unknown origin")
	return false
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("panel")
	if id == "" {
		id = DefaultPanel
	}
	log := s.log.With().Str("panel", id).Logger()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	c, err := s.panels.Open(s.ctx, id)
	if err != nil {
		// The bridge has already reported the failure as a status; the
		// panel still attaches so it can ask to reconnect.
		log.Warn().Err(err).Msg("backend did not start")
	}
	if c == nil {
		return
	}

	outbox := make(chan panel.Outgoing, outboxSize)
	done := make(chan struct{})
	defer close(done)

	push := func(ev bridge.Event) {
		select {
		case outbox <- panel.Encode(ev):
		case <-done:
		default:
			log.Warn().Msg("panel is not keeping up; dropping connection")
			conn.Close()
		}
	}

	// Subscribe before taking the snapshot so no event falls between them.
	dispose := c.Subscribe(push)
	defer dispose()
	if snap, err := c.Snapshot(); err == nil {
		for _, ev := range panel.Replay(snap) {
			push(ev)
		}
	}

	go s.writeLoop(conn, outbox, done, log)

	log.Info().Msg("panel attached")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("read failed")
			}
			log.Info().Msg("panel detached")
			return
		}
		in, err := panel.DecodeIncoming(data)
		if err != nil {
			log.Warn().Err(err).Msg("ignoring panel message")
			continue
		}
		if err := panel.Dispatch(s.ctx, c, s.docs, in); err != nil {
			log.Debug().Err(err).Str("type", in.Type).Msg("panel request failed")
		}
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, outbox <-chan panel.Outgoing, done <-chan struct{}, log zerolog.Logger) {
	for {
		select {
		case msg := <-outbox:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Msg("write failed")
				conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

// ListenAndServe serves panels on addr under /ws until ctx is done.
func ListenAndServe(ctx context.Context, addr string, s *Server) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("panel server listening on ws://" + addr + "/ws")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}
