// Package bridge is the client side of the realtime service: one Session per
// signed-in user, holding the live connection and the local view of presence,
// the open conversation and incoming notifications.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/chirp-social/realtime/internal/model"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var (
	// ErrDisconnected is returned by operations that need a live session.
	ErrDisconnected = errors.New("session is not connected")
	// ErrAlreadyConnected is returned by Login on an active session.
	ErrAlreadyConnected = errors.New("session already active")
)

// Identity is the signed-in user.
type Identity struct {
	UserID string
	Token  string
}

// Config configures a Session.
type Config struct {
	// BaseURL is the http(s) root of the API server.
	BaseURL     string
	HTTPTimeout time.Duration
	Dialer      *websocket.Dialer
}

// APIError is a non-2xx REST reply.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

type listener func(data json.RawMessage)

// Session owns at most one live connection. It never reconnects on its own
// and never queues outbound work while disconnected.
type Session struct {
	cfg  Config
	rest *resty.Client

	mu            sync.Mutex
	state         State
	gen           uint64 // bumped by every Login and Logout
	identity      Identity
	ws            *websocket.Conn
	listeners     map[model.EventKind]listener
	online        []string
	messages      []model.EnrichedMessage
	seen          map[string]struct{}
	notifications []model.Notification
	onError       func(error)
}

// New creates a disconnected session.
func New(cfg Config) *Session {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &Session{
		cfg: cfg,
		rest: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.HTTPTimeout).
			SetHeader("Accept", "application/json"),
		seen: make(map[string]struct{}),
	}
}

// OnError sets the callback for transport errors. The session is already
// disconnected when it runs.
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Login opens the live connection for id and starts listening.
func (s *Session) Login(ctx context.Context, id Identity) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	endpoint, err := s.wsURL(id.Token)
	if err != nil {
		s.abortLogin(gen)
		return err
	}

	ws, resp, err := s.cfg.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		s.abortLogin(gen)
		if resp != nil {
			return fmt.Errorf("failed to connect: %w", &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)})
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen {
		// superseded by Logout or a newer Login during the handshake
		s.mu.Unlock()
		_ = ws.Close()
		return ErrDisconnected
	}
	s.identity = id
	s.ws = ws
	s.online = nil
	s.messages = nil
	s.seen = make(map[string]struct{})
	s.notifications = nil
	s.listeners = map[model.EventKind]listener{
		model.EventOnlineUsers:  s.handleOnlineUsers,
		model.EventNewMessage:   s.handleNewMessage,
		model.EventNotification: s.handleNotification,
	}
	s.state = StateConnected
	s.mu.Unlock()

	go s.readLoop(ws)
	return nil
}

// Logout removes every listener, then closes the connection.
func (s *Session) Logout() error {
	s.mu.Lock()
	ws := s.ws
	s.teardownLocked()
	s.mu.Unlock()

	if ws == nil {
		return nil
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return ws.Close()
}

func (s *Session) teardownLocked() {
	s.gen++
	s.listeners = nil
	s.ws = nil
	s.identity = Identity{}
	s.online = nil
	s.state = StateDisconnected
}

func (s *Session) readLoop(ws *websocket.Conn) {
	for {
		var env model.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			s.transportFailed(ws, err)
			return
		}

		s.mu.Lock()
		if s.ws != ws {
			s.mu.Unlock()
			return
		}
		if l, ok := s.listeners[env.Event]; ok {
			l(env.Data)
		}
		s.mu.Unlock()
	}
}

func (s *Session) transportFailed(ws *websocket.Conn, err error) {
	s.mu.Lock()
	if s.ws != ws {
		// logged out already
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	onError := s.onError
	s.mu.Unlock()

	_ = ws.Close()
	if onError != nil {
		onError(err)
	}
}

// listeners run with s.mu held

func (s *Session) handleOnlineUsers(data json.RawMessage) {
	var users []string
	if err := json.Unmarshal(data, &users); err != nil {
		return
	}
	s.online = users
}

func (s *Session) handleNewMessage(data json.RawMessage) {
	var msg model.EnrichedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	s.appendMessageLocked(msg)
}

func (s *Session) handleNotification(data json.RawMessage) {
	var n model.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return
	}
	s.notifications = append(s.notifications, n)
}

func (s *Session) appendMessageLocked(msg model.EnrichedMessage) {
	if _, dup := s.seen[msg.ID]; dup {
		return
	}
	s.seen[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
}

// SendMessage posts text to receiverID and records the stored message locally.
func (s *Session) SendMessage(ctx context.Context, receiverID, text string) (*model.EnrichedMessage, error) {
	token, err := s.activeToken()
	if err != nil {
		return nil, err
	}

	var out model.SendMessageResponse
	resp, err := s.rest.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(model.SendMessageRequest{TextMessage: text}).
		SetResult(&out).
		Post("/api/v1/message/send/" + url.PathEscape(receiverID))
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	if out.Message == nil {
		return nil, errors.New("empty send response")
	}

	s.mu.Lock()
	if s.state == StateConnected {
		s.appendMessageLocked(*out.Message)
	}
	s.mu.Unlock()
	return out.Message, nil
}

// LoadMessages fetches the conversation with otherID and replaces the local list.
func (s *Session) LoadMessages(ctx context.Context, otherID string) ([]model.EnrichedMessage, error) {
	token, err := s.activeToken()
	if err != nil {
		return nil, err
	}

	var out model.ListMessagesResponse
	resp, err := s.rest.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&out).
		Get("/api/v1/message/all/" + url.PathEscape(otherID))
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.seen = make(map[string]struct{})
	for _, m := range out.Messages {
		s.appendMessageLocked(m)
	}
	return s.messagesLocked(), nil
}

func (s *Session) activeToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return "", ErrDisconnected
	}
	return s.identity.Token, nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(resp.Body(), &body)
		return &APIError{Status: resp.StatusCode(), Message: body.Error}
	}
	return nil
}

func (s *Session) wsURL(token string) (string, error) {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// abortLogin resets a failed Login unless something newer owns the session.
func (s *Session) abortLogin(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.state = StateDisconnected
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the signed-in user, or "" when disconnected.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity.UserID
}

// OnlineUsers returns the last presence roster received.
func (s *Session) OnlineUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.online...)
}

// Messages returns the local message list in arrival order.
func (s *Session) Messages() []model.EnrichedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesLocked()
}

func (s *Session) messagesLocked() []model.EnrichedMessage {
	return append([]model.EnrichedMessage(nil), s.messages...)
}

// Notifications returns the notifications received this session.
func (s *Session) Notifications() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Notification(nil), s.notifications...)
}
