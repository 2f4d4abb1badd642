// Package stubserver is an in-process intervention backend for local
// development and end-to-end tests. It serves the three REST read routes
// and both WebSocket channels against an in-memory dataset, with the same
// wire shapes as the production platform.
package stubserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/assistio/intervene/internal/models"
)

type user struct {
	ID       int64
	Username string
	Role     models.Role
}

type storedMessage struct {
	ID        int64
	Kind      models.MessageKind
	AuthorID  int64
	Author    string
	Content   string
	Timestamp string
}

type ticketState struct {
	ID       int64
	Title    string
	Status   string
	Priority string
	Rating   *int
	Closed   bool
	Messages []storedMessage
	room     *hub
}

// Server is the stub backend. Zero production hardening: one mutex guards
// the whole dataset, which is plenty for a dev machine.
type Server struct {
	log    *logrus.Logger
	engine *gin.Engine
	notify *hub

	mu            sync.Mutex
	users         map[string]user // token -> user
	tickets       map[int64]*ticketState
	nextUserID    int64
	nextTicketID  int64
	nextMessageID int64
}

// New creates an empty stub server. Seed it with AddUser and AddTicket
// before serving.
func New(log *logrus.Logger) *Server {
	s := &Server{
		log:     log,
		notify:  newHub(log),
		users:   make(map[string]user),
		tickets: make(map[int64]*ticketState),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(gin.Recovery())

	r.GET("/ws/notifications/", s.serveNotifications)
	r.GET("/ws/chat/:id/", s.serveChat)

	api := r.Group("/api")
	api.Use(s.authMiddleware())
	api.GET("/users/me/", s.me)
	api.GET("/interventions/", s.listTickets)
	api.GET("/interventions/:id/", s.getTicket)
	api.GET("/interventions/:id/messages/", s.listMessages)

	s.engine = r

	return s
}

// Handler exposes the stub as an http.Handler for httptest or http.Serve.
func (s *Server) Handler() http.Handler { return s.engine }

// AddUser registers a user and the token that authenticates as them.
func (s *Server) AddUser(token, username string, role models.Role) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextUserID++
	s.users[token] = user{ID: s.nextUserID, Username: username, Role: role}

	return s.nextUserID
}

// AddTicket creates an open intervention and returns its id.
func (s *Server) AddTicket(title, status, priority string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTicketID++
	s.tickets[s.nextTicketID] = &ticketState{
		ID:       s.nextTicketID,
		Title:    title,
		Status:   status,
		Priority: priority,
		room:     newHub(s.log),
	}

	return s.nextTicketID
}

// PostMessage appends a chat message on behalf of the token's user and fans
// it out to the ticket's room and the notifications feed. Lets tests and the
// mockserver command simulate remote traffic.
func (s *Server) PostMessage(ticketID int64, token, content string) error {
	s.mu.Lock()
	u, ok := s.users[token]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("stubserver: unknown token")
	}

	return s.appendChat(ticketID, u, content)
}

// authUser resolves the request's token to a user. REST carries it in the
// Authorization header, WebSocket upgrades in the token query parameter.
func (s *Server) authUser(c *gin.Context) (user, bool) {
	token := c.Query("token")
	if token == "" {
		const prefix = "Token "
		header := c.GetHeader("Authorization")
		if len(header) > len(prefix) && header[:len(prefix)] == prefix {
			token = header[len(prefix):]
		}
	}

	s.mu.Lock()
	u, ok := s.users[token]
	s.mu.Unlock()

	return u, ok
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := s.authUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "unauthorized",
				"message": "invalid or missing token",
			})

			return
		}
		c.Set("user", u)
		c.Next()
	}
}

func (s *Server) me(c *gin.Context) {
	u := c.MustGet("user").(user)
	c.JSON(http.StatusOK, models.User{ID: u.ID, Username: u.Username, Role: u.Role})
}

func (s *Server) ticket(c *gin.Context) (*ticketState, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "no such intervention"})

		return nil, false
	}

	s.mu.Lock()
	t, ok := s.tickets[id]
	s.mu.Unlock()
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "no such intervention"})

		return nil, false
	}

	return t, true
}

// REST wire shapes mirror the production API.

type wireAuthor struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type wireMessage struct {
	ID        int64      `json:"id"`
	Content   string     `json:"content"`
	Timestamp string     `json:"timestamp"`
	User      wireAuthor `json:"user"`
}

type wireTicket struct {
	ID       int64         `json:"id"`
	Title    string        `json:"title"`
	Status   string        `json:"status,omitempty"`
	Priority string        `json:"priority,omitempty"`
	Rating   *int          `json:"chat_rating,omitempty"`
	Messages []wireMessage `json:"messages,omitempty"`
}

func (s *Server) wireMessages(t *ticketState) []wireMessage {
	msgs := make([]wireMessage, 0, len(t.Messages))
	for _, m := range t.Messages {
		if m.Kind != models.KindChat {
			continue
		}
		msgs = append(msgs, wireMessage{
			ID:        m.ID,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			User:      wireAuthor{ID: m.AuthorID, Username: m.Author},
		})
	}

	return msgs
}

func (s *Server) listTickets(c *gin.Context) {
	s.mu.Lock()
	out := make([]wireTicket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, wireTicket{
			ID:       t.ID,
			Title:    t.Title,
			Status:   t.Status,
			Priority: t.Priority,
			Rating:   t.Rating,
			Messages: s.wireMessages(t),
		})
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, out)
}

func (s *Server) getTicket(c *gin.Context) {
	t, ok := s.ticket(c)
	if !ok {
		return
	}

	s.mu.Lock()
	out := wireTicket{
		ID:       t.ID,
		Title:    t.Title,
		Status:   t.Status,
		Priority: t.Priority,
		Rating:   t.Rating,
		Messages: s.wireMessages(t),
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, out)
}

func (s *Server) listMessages(c *gin.Context) {
	t, ok := s.ticket(c)
	if !ok {
		return
	}

	s.mu.Lock()
	out := s.wireMessages(t)
	s.mu.Unlock()

	c.JSON(http.StatusOK, out)
}

// WebSocket side.

func (s *Server) serveNotifications(c *gin.Context) {
	u, ok := s.authUser(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)

		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Debug("notifications accept failed")

		return
	}

	client := newWSClient(s.notify, conn, u)
	s.notify.add(client)

	go client.writePump(c.Request.Context())
	client.readPump(c.Request.Context(), nil)
}

func (s *Server) serveChat(c *gin.Context) {
	u, ok := s.authUser(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)

		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)

		return
	}
	s.mu.Lock()
	t, found := s.tickets[id]
	s.mu.Unlock()
	if !found {
		c.AbortWithStatus(http.StatusNotFound)

		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Debug("chat accept failed")

		return
	}

	client := newWSClient(t.room, conn, u)
	t.room.add(client)
	go client.writePump(c.Request.Context())

	// A chat that already ended greets the new connection with its close
	// frame so late joiners see the final state immediately.
	s.mu.Lock()
	closed, rating := t.Closed, t.Rating
	s.mu.Unlock()
	if closed {
		s.sendTo(client, closeFrame(rating))
	} else {
		s.broadcastSystem(t, fmt.Sprintf("%s joined the chat", u.Username))
	}

	client.readPump(c.Request.Context(), func(payload []byte) {
		s.handleChatPayload(t, client, payload)
	})
}

// handleChatPayload routes one inbound chat-channel frame.
func (s *Server) handleChatPayload(t *ticketState, client *wsClient, payload []byte) {
	var frame struct {
		Message string `json:"message"`
		Action  string `json:"action"`
		Rating  int    `json:"rating"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		s.sendTo(client, errorFrame("malformed frame"))

		return
	}

	switch {
	case frame.Action == models.ActionEndChat:
		s.endChat(t, client)
	case frame.Action == models.ActionRateChat:
		s.rateChat(t, client, frame.Rating)
	case frame.Message != "":
		if !client.user.Role.CanChat() {
			s.sendTo(client, errorFrame("your role cannot send messages"))

			return
		}
		if err := s.appendChat(t.ID, client.user, frame.Message); err != nil {
			s.sendTo(client, errorFrame(err.Error()))
		}
	default:
		s.log.WithField("payload", string(payload)).Debug("ignoring unknown chat frame")
	}
}

// appendChat stores a message and fans it out to the room and the
// notifications feed.
func (s *Server) appendChat(ticketID int64, from user, content string) error {
	s.mu.Lock()
	t, ok := s.tickets[ticketID]
	if !ok {
		s.mu.Unlock()

		return fmt.Errorf("stubserver: no such intervention %d", ticketID)
	}
	if t.Closed {
		s.mu.Unlock()

		return fmt.Errorf("chat is closed")
	}

	s.nextMessageID++
	msg := storedMessage{
		ID:        s.nextMessageID,
		Kind:      models.KindChat,
		AuthorID:  from.ID,
		Author:    from.Username,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	t.Messages = append(t.Messages, msg)
	title := t.Title
	s.mu.Unlock()

	t.room.broadcast(mustJSON(gin.H{
		"type":      "chat",
		"message":   msg.Content,
		"user":      msg.Author,
		"user_id":   msg.AuthorID,
		"timestamp": msg.Timestamp,
	}))
	s.notify.broadcast(mustJSON(gin.H{
		"event":           "new_message",
		"intervention_id": ticketID,
		"from_user_id":    msg.AuthorID,
		"from_user":       msg.Author,
		"title":           title,
		"message":         msg.Content,
		"timestamp":       msg.Timestamp,
	}))

	return nil
}

func (s *Server) broadcastSystem(t *ticketState, text string) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	s.mu.Lock()
	s.nextMessageID++
	t.Messages = append(t.Messages, storedMessage{
		ID:        s.nextMessageID,
		Kind:      models.KindSystem,
		Content:   text,
		Timestamp: now,
	})
	s.mu.Unlock()

	t.room.broadcast(mustJSON(gin.H{
		"type":      "system",
		"message":   text,
		"timestamp": now,
	}))
}

func (s *Server) endChat(t *ticketState, client *wsClient) {
	if client.user.Role != models.RoleEmployee {
		s.sendTo(client, errorFrame("only the assigned employee can end a chat"))

		return
	}

	s.mu.Lock()
	if t.Closed {
		s.mu.Unlock()

		return
	}
	t.Closed = true
	t.Status = "closed"
	rating := t.Rating
	s.mu.Unlock()

	t.room.broadcast(closeFrame(rating))
	t.room.closeAll()
}

func (s *Server) rateChat(t *ticketState, client *wsClient, rating int) {
	if rating < 1 || rating > 5 {
		s.sendTo(client, errorFrame("rating must be between 1 and 5"))

		return
	}

	s.mu.Lock()
	t.Rating = &rating
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"ticket": t.ID, "rating": rating}).Info("chat rated")
}

func (s *Server) sendTo(client *wsClient, msg []byte) {
	select {
	case client.send <- msg:
	default:
		s.log.Warn("stub client not draining, dropping frame")
	}
}

func errorFrame(text string) []byte {
	return mustJSON(gin.H{"type": "error", "message": text})
}

func closeFrame(rating *int) []byte {
	payload := gin.H{"type": "close_chat_channel"}
	if rating != nil {
		payload["rating"] = *rating
	}

	return mustJSON(payload)
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	return data
}
