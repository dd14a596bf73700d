package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheus3301/bunnychat/internal/logging"
)

// Endpoint paths of the SmartChat API.
const (
	PathLoadChat     = "/SmartChat/LoadChat"
	PathSendChat     = "/SmartChat/SendChat"
	PathDeleteChat   = "/SmartChat/DeleteChat"
	PathLoadHomeData = "/SmartChat/LoadHomeData"
	PathSignIn       = "/SmartChat/SignIn"
	PathSignUp       = "/NoteApp/SignUp"
	PathAvatarImages = "/SmartChat/AvatarImages/"
)

const (
	maxJSONBody   = 8 << 20
	maxAvatarBody = 16 << 20
	maxErrorBody  = 512
)

// Client is a typed client for the SmartChat HTTP JSON API. It holds no
// conversation state and is safe for concurrent use.
type Client struct {
	base   string
	http   *http.Client
	logger *zap.Logger
	tracer trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer("github.com/matheus3301/bunnychat/internal/api") }
}

// New returns a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q: missing host", baseURL)
	}
	u.RawQuery = ""
	u.Fragment = ""

	c := &Client{
		base:   strings.TrimRight(u.String(), "/"),
		http:   http.DefaultClient,
		logger: zap.NewNop(),
		tracer: otel.Tracer("github.com/matheus3301/bunnychat/internal/api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	c.logger = logging.OrNop(c.logger)
	return c, nil
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string { return c.base }

// AvatarURL returns the avatar image URL of the user with the given mobile number.
func (c *Client) AvatarURL(mobile string) string {
	return c.base + PathAvatarImages + url.PathEscape(mobile) + ".png"
}

// LoadTranscript returns the messages between selfID and otherID in the
// order the server delivered them.
func (c *Client) LoadTranscript(ctx context.Context, selfID, otherID int64) ([]Message, error) {
	q := url.Values{}
	q.Set("logged_user_id", formatID(selfID))
	q.Set("other_user_id", formatID(otherID))

	var msgs []Message
	if err := c.getJSON(ctx, "load_transcript", PathLoadChat, q, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessage posts body from selfID to otherID. replyToID of zero sends no
// reply reference.
func (c *Client) SendMessage(ctx context.Context, selfID, otherID int64, body string, replyToID int64) (SendResult, error) {
	if err := ValidateBody(body); err != nil {
		return SendResult{}, err
	}
	q := url.Values{}
	q.Set("logged_user_id", formatID(selfID))
	q.Set("other_user_id", formatID(otherID))
	q.Set("message", body)
	if replyToID != 0 {
		q.Set("reply_to", formatID(replyToID))
	}

	var res SendResult
	if err := c.getJSON(ctx, "send_message", PathSendChat, q, &res); err != nil {
		return SendResult{}, err
	}
	return res, nil
}

// DeleteMessage permanently removes the message with the given id. Any 2xx
// status counts as success.
func (c *Client) DeleteMessage(ctx context.Context, id int64) (DeleteResult, error) {
	q := url.Values{}
	q.Set("id", formatID(id))

	req, err := c.newRequest(ctx, http.MethodGet, PathDeleteChat, q, nil)
	if err != nil {
		return DeleteResult{}, err
	}
	if _, err := c.do(ctx, "delete_message", req, maxJSONBody); err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{Success: true}, nil
}

// LoadHomeSummaries returns the conversation summaries of selfID as
// delivered. Entries with an avatar get AvatarURL filled in.
func (c *Client) LoadHomeSummaries(ctx context.Context, selfID int64) ([]ConversationSummary, error) {
	q := url.Values{}
	q.Set("id", formatID(selfID))

	var payload homePayload
	if err := c.getJSON(ctx, "load_home", PathLoadHomeData, q, &payload); err != nil {
		return nil, err
	}
	if !payload.Success {
		return nil, &ServerError{Op: "load_home", StatusCode: http.StatusOK, Message: orDefault(payload.Message, "success=false")}
	}
	for i := range payload.ChatArray {
		s := &payload.ChatArray[i]
		if s.AvatarFound && s.OtherUserMobile != "" {
			s.AvatarURL = c.AvatarURL(s.OtherUserMobile)
		}
	}
	return payload.ChatArray, nil
}

// SignIn exchanges credentials for the user record. A refused sign-in is
// reported through SignInResult.Success, not as an error.
func (c *Client) SignIn(ctx context.Context, mobile, password string) (SignInResult, error) {
	if strings.TrimSpace(mobile) == "" {
		return SignInResult{}, &ValidationError{Field: "mobile", Reason: "required"}
	}
	if password == "" {
		return SignInResult{}, &ValidationError{Field: "password", Reason: "required"}
	}
	body, err := json.Marshal(map[string]string{"mobile": mobile, "password": password})
	if err != nil {
		return SignInResult{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, PathSignIn, nil, bytes.NewReader(body))
	if err != nil {
		return SignInResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var res SignInResult
	if err := c.doJSON(ctx, "sign_in", req, &res); err != nil {
		return SignInResult{}, err
	}
	if res.Success && res.User == nil {
		return SignInResult{}, &ServerError{Op: "sign_in", StatusCode: http.StatusOK, Message: "success without user"}
	}
	return res, nil
}

// SignUpRequest carries the registration form. Avatar is optional PNG data.
type SignUpRequest struct {
	Mobile    string
	FirstName string
	LastName  string
	Password  string
	Avatar    io.Reader
}

// Validate reports the first missing required field.
func (r SignUpRequest) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"mobile", r.Mobile},
		{"firstName", r.FirstName},
		{"lastName", r.LastName},
		{"password", r.Password},
	} {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name, Reason: "required"}
		}
	}
	return nil
}

// SignUp registers a new account with a multipart form post.
func (c *Client) SignUp(ctx context.Context, r SignUpRequest) (Result, error) {
	if err := r.Validate(); err != nil {
		return Result{}, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range [][2]string{
		{"mobile", r.Mobile},
		{"firstName", r.FirstName},
		{"lastName", r.LastName},
		{"password", r.Password},
	} {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return Result{}, fmt.Errorf("write form field: %w", err)
		}
	}
	if r.Avatar != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="avatarImage"; filename="avatar.png"`)
		h.Set("Content-Type", "image/png")
		part, err := w.CreatePart(h)
		if err != nil {
			return Result{}, fmt.Errorf("create avatar part: %w", err)
		}
		if _, err := io.Copy(part, r.Avatar); err != nil {
			return Result{}, fmt.Errorf("copy avatar: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return Result{}, fmt.Errorf("close form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, PathSignUp, nil, &buf)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var res Result
	if err := c.doJSON(ctx, "sign_up", req, &res); err != nil {
		return Result{}, err
	}
	return res, nil
}

// FetchAvatar downloads the avatar image of the user with the given mobile number.
func (c *Client) FetchAvatar(ctx context.Context, mobile string) ([]byte, error) {
	if strings.TrimSpace(mobile) == "" {
		return nil, &ValidationError{Field: "mobile", Reason: "required"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.AvatarURL(mobile), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.do(ctx, "fetch_avatar", req, maxAvatarBody)
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	target := c.base + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, q url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, op, req, out)
}

func (c *Client) doJSON(ctx context.Context, op string, req *http.Request, out any) error {
	body, err := c.do(ctx, op, req, maxJSONBody)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ServerError{Op: op, StatusCode: http.StatusOK, Message: "decode response", Err: err}
	}
	return nil
}

// do executes req inside a span and returns the response body. Bodies larger
// than limit are truncated to limit bytes.
func (c *Client) do(ctx context.Context, op string, req *http.Request, limit int64) (_ []byte, err error) {
	ctx, span := c.tracer.Start(ctx, "api."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL.Path),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	req = req.WithContext(ctx)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("api request failed", zap.String("op", op), zap.Error(err))
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("api request rejected", zap.String("op", op), zap.Int("status", resp.StatusCode))
		return nil, &ServerError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(snippet))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &NetworkError{Op: op, Err: err}
		}
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > limit {
		return nil, &ServerError{Op: op, StatusCode: resp.StatusCode, Message: fmt.Sprintf("response larger than %d bytes", limit)}
	}
	c.logger.Debug("api request ok", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.Int("bytes", len(body)))
	return body, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
