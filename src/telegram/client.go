// Package telegram is a small Bot API client covering what the relay needs:
// long polling, file download and the reply methods.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.telegram.org"

// DefaultMaxFileBytes is the Bot API download limit.
const DefaultMaxFileBytes = 20 << 20

// MaxPollTimeout caps the long-poll wait so a poll always ends before the
// HTTP client timeout.
const MaxPollTimeout = 50 * time.Second

const defaultHTTPTimeout = 90 * time.Second

var ErrFileTooLarge = errors.New("telegram: file too large")

// RequestError is a non-OK Bot API response.
type RequestError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *RequestError) Error() string {
	desc := strings.TrimSpace(e.Description)
	if desc == "" {
		desc = "ok=false"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("telegram %s: http %d: %s", e.Method, e.StatusCode, desc)
	}
	return fmt.Sprintf("telegram %s: %s", e.Method, desc)
}

// IsParseError reports whether the API rejected the message formatting.
func IsParseError(err error) bool {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return false
	}
	desc := strings.ToLower(reqErr.Description)
	return strings.Contains(desc, "can't parse entities") || strings.Contains(desc, "can't parse entity")
}

// IsPollTimeout reports whether err is the expected end of a long poll.
func IsPollTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type Client struct {
	http    *http.Client
	baseURL string
	token   string
	logger  *slog.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u = strings.TrimSpace(u); u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(token string, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		baseURL: DefaultBaseURL,
		token:   token,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// transportError drops the request URL from err, since it embeds the bot
// token. The cause stays wrapped so timeouts are still recognised.
func transportError(method string, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("telegram %s: %w", method, urlErr.Err)
	}
	return fmt.Errorf("telegram %s: %w", method, err)
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// do sends req and decodes the result field of the response into out.
func (c *Client) do(req *http.Request, method string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(method, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.OK {
		desc := env.Description
		if decodeErr != nil {
			desc = strings.TrimSpace(string(raw))
		}
		return &RequestError{Method: method, StatusCode: resp.StatusCode, ErrorCode: env.ErrorCode, Description: desc}
	}
	if decodeErr != nil {
		return fmt.Errorf("telegram %s: decode: %w", method, decodeErr)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, method string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, out)
}

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.methodURL("getMe"), nil)
	if err != nil {
		return nil, err
	}
	var u User
	if err := c.do(req, "getMe", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUpdates long-polls for updates starting at offset and returns them with
// the offset to use next. timeout is capped at MaxPollTimeout.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	timeout = min(timeout, MaxPollTimeout)
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	q := url.Values{}
	q.Set("timeout", strconv.Itoa(secs))
	q.Set("allowed_updates", `["message"]`)
	if offset > 0 {
		q.Set("offset", strconv.FormatInt(offset, 10))
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(secs)*time.Second+5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.methodURL("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, offset, err
	}
	var updates []Update
	if err := c.do(req, "getUpdates", &updates); err != nil {
		return nil, offset, err
	}
	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return nil, errors.New("telegram getFile: missing file_id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.methodURL("getFile")+"?file_id="+url.QueryEscape(fileID), nil)
	if err != nil {
		return nil, err
	}
	var f File
	if err := c.do(req, "getFile", &f); err != nil {
		return nil, err
	}
	if strings.TrimSpace(f.FilePath) == "" {
		return nil, errors.New("telegram getFile: missing file_path")
	}
	return &f, nil
}

// Download copies a file returned by GetFile to dst. Files larger than
// maxBytes are rejected with ErrFileTooLarge and dst is removed.
func (c *Client) Download(ctx context.Context, filePath, dst string, maxBytes int64) (int64, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	u := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, strings.TrimLeft(filePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, transportError("download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("telegram download: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, maxBytes+1))
	closeErr := f.Close()
	switch {
	case err != nil:
		return n, err
	case n > maxBytes:
		_ = os.Remove(dst)
		return n, fmt.Errorf("%w (>%d bytes)", ErrFileTooLarge, maxBytes)
	case closeErr != nil:
		return n, closeErr
	}
	return n, nil
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

// SendMessage sends text with the given parse mode ("" for plain text).
func (c *Client) SendMessage(ctx context.Context, chatID int64, text, parseMode string) error {
	return c.postJSON(ctx, "sendMessage", sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             parseMode,
		DisableWebPagePreview: true,
	}, nil)
}

func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return c.postJSON(ctx, "sendChatAction", map[string]any{"chat_id": chatID, "action": action}, nil)
}

// SendDocument uploads the file at path with an optional caption.
func (c *Client) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("telegram sendDocument: %s is a directory", path)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeDocumentForm(mw, f, chatID, filepath.Base(path), strings.TrimSpace(caption))
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendDocument"), pr)
	if err != nil {
		_ = pr.Close()
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	err = c.do(req, "sendDocument", nil)
	_ = pr.Close()
	return err
}

func writeDocumentForm(mw *multipart.Writer, src io.Reader, chatID int64, filename, caption string) error {
	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}

// StartTyping sends a chat action now and every interval until the returned
// stop func is called.
func (c *Client) StartTyping(ctx context.Context, chatID int64, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 4 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	send := func() {
		if err := c.SendChatAction(ctx, chatID, "typing"); err != nil && ctx.Err() == nil {
			c.logger.Debug("telegram_chat_action_error", "chat_id", chatID, "error", err.Error())
		}
	}
	send()
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				send()
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
