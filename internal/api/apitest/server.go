// Package apitest provides an in-memory SmartChat server for tests.
package apitest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/matheus3301/bunnychat/internal/api"
)

// DateLayout is the dateTime format the fake server emits.
const DateLayout = "2006-01-02 15:04:05"

type account struct {
	user     api.User
	password string
	online   bool
	avatar   []byte
}

type canned struct {
	status int
	body   string
}

type message struct {
	id      int64
	from    int64
	to      int64
	body    string
	at      time.Time
	status  api.DeliveryStatus
	replyTo int64
}

// Server is a fake SmartChat backend served over httptest. All methods are
// safe for concurrent use.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[int64]*account
	messages []*message
	nextUser int64
	nextMsg  int64
	now      time.Time

	failures map[string]int
	canned   map[string]canned
	hooks    map[string]func(*http.Request)
	requests map[string][]url.Values
}

// New starts a server. Callers must Close it.
func New() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		accounts: make(map[int64]*account),
		nextUser: 1,
		nextMsg:  100,
		now:      time.Date(2024, 1, 1, 9, 0, 0, 0, time.Local),
		failures: make(map[string]int),
		canned:   make(map[string]canned),
		hooks:    make(map[string]func(*http.Request)),
		requests: make(map[string][]url.Values),
	}
	s.Server = httptest.NewServer(s.router())
	return s
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(s.intercept)
	r.GET(api.PathLoadChat, s.loadChat)
	r.GET(api.PathSendChat, s.sendChat)
	r.GET(api.PathDeleteChat, s.deleteChat)
	r.GET(api.PathLoadHomeData, s.loadHome)
	r.POST(api.PathSignIn, s.signIn)
	r.POST(api.PathSignUp, s.signUp)
	r.GET(api.PathAvatarImages+":file", s.avatar)
	return r
}

// AddUser registers an account and returns it with its assigned id.
func (s *Server) AddUser(first, last, mobile, password string) api.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(first, last, mobile, password).user
}

func (s *Server) addUserLocked(first, last, mobile, password string) *account {
	a := &account{user: api.User{
		ID:        s.nextUser,
		FirstName: first,
		LastName:  last,
		Mobile:    mobile,
	}, password: password}
	s.nextUser++
	s.accounts[a.user.ID] = a
	return a
}

// SetOnline marks a user online or offline.
func (s *Server) SetOnline(userID int64, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[userID]; ok {
		a.online = online
	}
}

// SetAvatar stores PNG bytes as the avatar of a user.
func (s *Server) SetAvatar(userID int64, png []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[userID]; ok {
		a.avatar = png
		a.user.Avatar = a.user.Mobile + ".png"
	}
}

// AddMessage stores a message and returns its id. Each message is stamped
// one minute after the previous one.
func (s *Server) AddMessage(from, to int64, body string, replyTo int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addMessageLocked(from, to, body, replyTo)
}

func (s *Server) addMessageLocked(from, to int64, body string, replyTo int64) int64 {
	s.now = s.now.Add(time.Minute)
	m := &message{id: s.nextMsg, from: from, to: to, body: body, at: s.now, replyTo: replyTo}
	s.nextMsg++
	s.messages = append(s.messages, m)
	return m.id
}

// MessageIDs returns the ids of stored messages between a and b in
// insertion order.
func (s *Server) MessageIDs(a, b int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, m := range s.messages {
		if between(m, a, b) {
			ids = append(ids, m.id)
		}
	}
	return ids
}

// Fail makes every request to path answer with status until Recover is called.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// Recover clears a failure installed by Fail or Respond.
func (s *Server) Recover(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, path)
	delete(s.canned, path)
}

// Hook installs fn to run before requests to path are handled. fn runs
// without the server lock held and may block.
func (s *Server) Hook(path string, fn func(*http.Request)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.hooks, path)
		return
	}
	s.hooks[path] = fn
}

// Requests returns the query of every request received on path.
func (s *Server) Requests(path string) []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, len(s.requests[path]))
	copy(out, s.requests[path])
	return out
}

func (s *Server) intercept(c *gin.Context) {
	path := c.Request.URL.Path
	if strings.HasPrefix(path, api.PathAvatarImages) {
		path = api.PathAvatarImages
	}

	s.mu.Lock()
	s.requests[path] = append(s.requests[path], c.Request.URL.Query())
	hook := s.hooks[path]
	status, failing := s.failures[path]
	reply, hasReply := s.canned[path]
	s.mu.Unlock()

	if hook != nil {
		hook(c.Request)
	}
	if failing {
		c.AbortWithStatusJSON(status, gin.H{"error": http.StatusText(status)})
		return
	}
	if hasReply {
		c.Data(reply.status, "application/json", []byte(reply.body))
		c.Abort()
		return
	}
	c.Next()
}

func (s *Server) loadChat(c *gin.Context) {
	self, ok1 := queryID(c, "logged_user_id")
	other, ok2 := queryID(c, "other_user_id")
	if !ok1 || !ok2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user ids"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]api.Message, 0)
	for _, m := range s.messages {
		if !between(m, self, other) {
			continue
		}
		if m.to == self {
			m.status = api.StatusDelivered
		}
		out = append(out, s.renderLocked(m, self))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) renderLocked(m *message, self int64) api.Message {
	side := api.SideLeft
	if m.from == self {
		side = api.SideRight
	}
	msg := api.Message{
		ID:       m.id,
		Side:     side,
		Body:     m.body,
		DateTime: m.at.Format(DateLayout),
		Status:   m.status,
	}
	if m.replyTo != 0 {
		if q := s.findLocked(m.replyTo); q != nil {
			ref := &api.ReplyRef{ID: q.id, Body: q.body}
			if a, ok := s.accounts[q.from]; ok {
				ref.SenderName = a.user.DisplayName()
			}
			msg.ReplyTo = ref
		}
	}
	return msg
}

func (s *Server) findLocked(id int64) *message {
	for _, m := range s.messages {
		if m.id == id {
			return m
		}
	}
	return nil
}

func (s *Server) sendChat(c *gin.Context) {
	self, ok1 := queryID(c, "logged_user_id")
	other, ok2 := queryID(c, "other_user_id")
	body := c.Query("message")
	if !ok1 || !ok2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user ids"})
		return
	}
	if strings.TrimSpace(body) == "" {
		c.JSON(http.StatusOK, api.SendResult{Success: false, Message: "empty message"})
		return
	}
	var replyTo int64
	if raw := c.Query("reply_to"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad reply_to"})
			return
		}
		replyTo = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[other]; !ok {
		c.JSON(http.StatusOK, api.SendResult{Success: false, Message: "unknown recipient"})
		return
	}
	s.addMessageLocked(self, other, body, replyTo)
	c.JSON(http.StatusOK, api.SendResult{Success: true})
}

func (s *Server) deleteChat(c *gin.Context) {
	id, ok := queryID(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.id == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no such message"})
}

type homeRow struct {
	OtherUserID     int64  `json:"other_user_id"`
	OtherUserName   string `json:"other_user_name"`
	OtherUserMobile string `json:"other_user_mobile"`
	OtherUserStatus int    `json:"other_user_status"`
	AvatarFound     bool   `json:"avatar_image_found"`
	AvatarLetters   string `json:"other_user_avatar_letters"`
	Message         string `json:"message"`
	DateTime        string `json:"dateTime"`
	ChatStatusID    int    `json:"chat_status_id"`
}

func (s *Server) loadHome(c *gin.Context) {
	self, ok := queryID(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[self]; !ok {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "unknown user"})
		return
	}

	last := make(map[int64]*message)
	var order []int64
	for _, m := range s.messages {
		var other int64
		switch self {
		case m.from:
			other = m.to
		case m.to:
			other = m.from
		default:
			continue
		}
		if _, seen := last[other]; !seen {
			order = append(order, other)
		}
		last[other] = m
	}

	rows := make([]homeRow, 0, len(order))
	for _, other := range order {
		a, ok := s.accounts[other]
		if !ok {
			continue
		}
		m := last[other]
		row := homeRow{
			OtherUserID:     other,
			OtherUserName:   a.user.DisplayName(),
			OtherUserMobile: a.user.Mobile,
			AvatarFound:     a.avatar != nil,
			AvatarLetters:   letters(a.user),
			Message:         m.body,
			DateTime:        m.at.Format(DateLayout),
			ChatStatusID:    int(m.status),
		}
		if a.online {
			row.OtherUserStatus = 1
		}
		rows = append(rows, row)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "jsonChatArray": rows})
}

func (s *Server) signIn(c *gin.Context) {
	var req struct {
		Mobile   string `json:"mobile"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad json"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.user.Mobile == req.Mobile && a.password == req.Password {
			u := a.user
			c.JSON(http.StatusOK, api.SignInResult{Success: true, User: &u, Message: "Sign in success"})
			return
		}
	}
	c.JSON(http.StatusOK, api.SignInResult{Success: false, Message: "Invalid credentials"})
}

func (s *Server) signUp(c *gin.Context) {
	mobile := c.PostForm("mobile")
	first := c.PostForm("firstName")
	last := c.PostForm("lastName")
	password := c.PostForm("password")
	if mobile == "" || first == "" || last == "" || password == "" {
		c.JSON(http.StatusOK, api.Result{Success: false, Message: "Missing fields"})
		return
	}

	var avatar []byte
	if fh, err := c.FormFile("avatarImage"); err == nil {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad avatar"})
			return
		}
		avatar, err = io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad avatar"})
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.user.Mobile == mobile {
			c.JSON(http.StatusOK, api.Result{Success: false, Message: "Mobile already registered"})
			return
		}
	}
	a := s.addUserLocked(first, last, mobile, password)
	if avatar != nil {
		a.avatar = avatar
		a.user.Avatar = mobile + ".png"
	}
	c.JSON(http.StatusOK, api.Result{Success: true, Message: "Registration complete"})
}

func (s *Server) avatar(c *gin.Context) {
	mobile := strings.TrimSuffix(c.Param("file"), ".png")

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.user.Mobile == mobile && a.avatar != nil {
			c.Data(http.StatusOK, "image/png", a.avatar)
			return
		}
	}
	c.Status(http.StatusNotFound)
}

func between(m *message, a, b int64) bool {
	return (m.from == a && m.to == b) || (m.from == b && m.to == a)
}

func letters(u api.User) string {
	var out string
	for _, part := range []string{u.FirstName, u.LastName} {
		if part != "" {
			out += strings.ToUpper(part[:1])
		}
	}
	return out
}

func queryID(c *gin.Context, key string) (int64, bool) {
	id, err := strconv.ParseInt(c.Query(key), 10, 64)
	return id, err == nil
}

// Respond makes path answer with status and body verbatim until Recover is
// called.
func (s *Server) Respond(path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canned[path] = canned{status: status, body: body}
}
