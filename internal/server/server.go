package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/lotas/tabsync/internal/applog"
	"github.com/lotas/tabsync/internal/eventbus"
)

// ErrNotConnected is returned by Request while no UI is attached.
var ErrNotConnected = errors.New("no UI connected")

// DefaultRequestTimeout bounds Request calls whose context has no deadline.
const DefaultRequestTimeout = 10 * time.Second

// Incoming message types.
const (
	TypeHello    = "hello"
	TypeResponse = "response"
	TypeActivate = "activate"
	TypeClose    = "close"
	TypeCreate   = "create"
	TypeNavigate = "navigate"
	TypeRename   = "rename"
	TypeTitle    = "title" // page title reported by a frame
	TypeExpand   = "expand"
	TypePointer  = "pointer"
)

// Outgoing actions.
const (
	ActionMaterialize = "materialize"
	ActionNavigate    = "navigate"
	ActionDestroy     = "destroy"
	ActionVisibility  = "visibility"
	ActionState       = "state"
	ActionNavigation  = "navigation"
	ActionNotice      = "notice"
	ActionDragStart   = "dragStart"
	ActionDragEnd     = "dragEnd"
	ActionError       = "error"
)

// IncomingMsg is a message from the UI shell.
type IncomingMsg struct {
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"`
	OK       *bool           `json:"ok,omitempty"`
	Error    string          `json:"error,omitempty"`
	Frame    string          `json:"frame,omitempty"`
	TabID    int64           `json:"tabId,omitempty"`
	URL      string          `json:"url,omitempty"`
	Title    string          `json:"title,omitempty"`
	SpaceID  string          `json:"spaceId,omitempty"`
	Expanded *bool           `json:"expanded,omitempty"`
	Force    bool            `json:"force,omitempty"`
	Pointer  *PointerPayload `json:"pointer,omitempty"`
}

// OutgoingMsg is a command or broadcast to the UI shell.
type OutgoingMsg struct {
	ID         string               `json:"id,omitempty"`
	Action     string               `json:"action"`
	Frame      string               `json:"frame,omitempty"`
	URL        string               `json:"url,omitempty"`
	Visible    *bool                `json:"visible,omitempty"`
	Tabs       []TabView            `json:"tabs,omitempty"`
	Spaces     []SpaceView          `json:"spaces,omitempty"`
	Navigation *eventbus.Navigation `json:"navigation,omitempty"`
	Notice     *eventbus.Notice     `json:"notice,omitempty"`
	Item       *ItemPayload         `json:"item,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Server manages the WebSocket connection to the UI shell. Commands that
// need an answer go through Request; everything else arrives on Messages.
type Server struct {
	port    int
	msgs    chan IncomingMsg
	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
	pending map[string]chan IncomingMsg
	seq     atomic.Uint64
	onConn  func()
}

// New creates a new Server. Port 0 means the caller manages the listener.
func New(port int) *Server {
	return &Server{
		port:    port,
		msgs:    make(chan IncomingMsg, 64),
		pending: make(map[string]chan IncomingMsg),
	}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Messages returns the channel of incoming messages from the UI.
func (s *Server) Messages() <-chan IncomingMsg {
	return s.msgs
}

// Connected reports whether a UI is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// NextID returns a fresh request id.
func (s *Server) NextID() string {
	return "srv-" + strconv.FormatUint(s.seq.Add(1), 10)
}

// Send sends a message to the connected UI. It is a no-op while none is
// connected.
func (s *Server) Send(msg OutgoingMsg) error {
	s.mu.Lock()
	conn := s.conn
	ctx := s.connCtx
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	applog.Info("ws.send", "action", msg.Action, "id", msg.ID)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Request sends msg and waits for the UI's response with the same id.
func (s *Server) Request(ctx context.Context, msg OutgoingMsg) (IncomingMsg, error) {
	if msg.ID == "" {
		msg.ID = s.NextID()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}

	reply := make(chan IncomingMsg, 1)
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return IncomingMsg{}, ErrNotConnected
	}
	s.pending[msg.ID] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, msg.ID)
		s.mu.Unlock()
	}()

	if err := s.Send(msg); err != nil {
		return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, err)
	}
	select {
	case resp := <-reply:
		if resp.OK != nil && !*resp.OK {
			return resp, fmt.Errorf("%s: %s", msg.Action, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, ctx.Err())
	}
}

// OnConnect registers fn to run after each new UI connection.
func (s *Server) OnConnect(fn func()) {
	s.mu.Lock()
	s.onConn = fn
	s.mu.Unlock()
}

func (s *Server) resolve(msg IncomingMsg) {
	s.mu.Lock()
	reply, ok := s.pending[msg.ID]
	s.mu.Unlock()
	if !ok {
		applog.Info("ws.orphan_response", "id", msg.ID)
		return
	}
	select {
	case reply <- msg:
	default:
	}
}

// failPending answers every outstanding request after a disconnect.
func (s *Server) failPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	no := false
	for id, reply := range s.pending {
		select {
		case reply <- IncomingMsg{Type: TypeResponse, ID: id, OK: &no, Error: "disconnected"}:
		default:
		}
	}
}

// Handler returns an http.Handler that accepts WebSocket upgrades.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(4 << 20)

		ctx := r.Context()
		s.mu.Lock()
		if s.conn != nil {
			applog.Info("ws.replaced")
			s.conn.CloseNow()
		}
		s.conn = conn
		s.connCtx = ctx
		onConn := s.onConn
		s.mu.Unlock()

		applog.Info("ws.connected", "remote", r.RemoteAddr)
		if onConn != nil {
			go onConn()
		}

		defer func() {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				s.connCtx = nil
			}
			s.mu.Unlock()
			s.failPending()
			conn.CloseNow()
			applog.Info("ws.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg IncomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			if msg.Type == TypeResponse {
				s.resolve(msg)
				continue
			}
			applog.Info("ws.recv", "type", msg.Type)
			select {
			case s.msgs <- msg:
			default:
				applog.Info("ws.dropped", "type", msg.Type)
			}
		}
	})
}

// ListenAndServe starts the WebSocket server on the configured port.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", s.Handler())

	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	applog.Info("server.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
