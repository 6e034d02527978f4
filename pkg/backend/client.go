// Package backend is the HTTP client for the dialog backend: dialog creation,
// the streaming /ask endpoint, history listing and dialog maintenance.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-go-golems/dialogue/pkg/security"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 30 * time.Second
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	urlOptions security.OutboundURLOptions
}

type ClientOption func(*Client)

// WithHTTPClient replaces the http.Client. Its Timeout must stay zero, the
// streaming endpoint is read for as long as the backend keeps answering.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout bounds every non-streaming request. Zero disables the bound.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		client.timeout = d
	}
}

func WithURLOptions(opts security.OutboundURLOptions) ClientOption {
	return func(client *Client) {
		client.urlOptions = opts
	}
}

// NewClient validates baseURL and returns a client for it. Without
// WithURLOptions, plain HTTP and local networks are allowed since the
// reference backend runs on localhost.
func NewClient(baseURL string, options ...ClientOption) (*Client, error) {
	c := &Client{
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		urlOptions: security.OutboundURLOptions{AllowHTTP: true, AllowLocalNetworks: true},
	}
	for _, o := range options {
		o(c)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	u, err := security.NormalizeBaseURL(baseURL, c.urlOptions)
	if err != nil {
		return nil, errors.Wrap(err, "invalid backend URL")
	}
	c.baseURL = u
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateDialog registers a new dialog and returns its id.
func (c *Client) CreateDialog(ctx context.Context, identity Identity, title string) (string, error) {
	if !identity.Valid() {
		return "", ErrNoIdentity
	}
	var resp newDialogResponse
	err := c.doJSON(ctx, http.MethodPost, "/new_dialog", nil, newDialogRequest{
		Username:          identity.Username,
		ConversationTitle: title,
	}, &resp)
	if err != nil {
		return "", errors.Wrap(err, "could not create dialog")
	}
	if resp.DialogID == "" {
		return "", ErrNoDialogID
	}

	log.Debug().Str("dialog_id", string(resp.DialogID)).Str("title", title).Msg("Created dialog")
	return string(resp.DialogID), nil
}

// Ask opens the streaming reply for a question. The caller owns the returned
// body and must close it.
func (c *Client) Ask(ctx context.Context, req AskRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not marshal ask request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ask", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "could not create ask request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	log.Debug().Object("request", req).Msg("Opening reply stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "could not reach backend")
	}
	if err := checkStatus(http.MethodPost, "/ask", resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, ErrNoBody
	}
	return resp.Body, nil
}

// Stop asks the backend to stop generating the reply for a dialog. Delivery
// is best effort.
func (c *Client) Stop(ctx context.Context, identity Identity, dialogID string) error {
	if !identity.Valid() {
		return ErrNoIdentity
	}
	err := c.doJSON(ctx, http.MethodPost, "/stop", nil, stopRequest{
		DialogID: DialogID(dialogID),
		Username: identity.Username,
	}, nil)
	return errors.Wrap(err, "could not stop reply")
}

func (c *Client) ListDialogs(ctx context.Context, identity Identity) ([]Dialog, error) {
	if !identity.Valid() {
		return nil, ErrNoIdentity
	}
	var resp dialogsResponse
	err := c.doJSON(ctx, http.MethodGet, "/dialogs", url.Values{"username": {identity.Username}}, nil, &resp)
	if err != nil {
		return nil, errors.Wrap(err, "could not list dialogs")
	}
	return resp.Conversations, nil
}

func (c *Client) RenameDialog(ctx context.Context, identity Identity, dialogID string, title string) error {
	if !identity.Valid() {
		return ErrNoIdentity
	}
	err := c.doJSON(ctx, http.MethodPut, "/dialog/"+url.PathEscape(dialogID), nil, renameRequest{
		Username: identity.Username,
		Title:    title,
	}, nil)
	return errors.Wrap(err, "could not rename dialog")
}

func (c *Client) DeleteDialog(ctx context.Context, identity Identity, dialogID string) error {
	if !identity.Valid() {
		return ErrNoIdentity
	}
	err := c.doJSON(ctx, http.MethodDelete, "/dialog/"+url.PathEscape(dialogID), url.Values{"username": {identity.Username}}, nil, nil)
	return errors.Wrap(err, "could not delete dialog")
}

// VerifyToken checks a stored identity. An invalid token is reported as
// (false, nil); transport failures as an error.
func (c *Client) VerifyToken(ctx context.Context, identity Identity) (bool, error) {
	if !identity.Valid() || identity.Token == "" {
		return false, nil
	}
	err := c.doJSON(ctx, http.MethodPost, "/verify_token", nil, verifyTokenRequest{
		Username: identity.Username,
		Token:    identity.Token,
	}, nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
			return false, nil
		}
		return false, errors.Wrap(err, "could not verify token")
	}
	return true, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in interface{}, out interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "could not marshal request")
		}
		body = bytes.NewReader(b)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return errors.Wrap(err, "could not create request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	log.Trace().Str("method", method).Str("path", path).Msg("Backend request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "could not reach backend")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := checkStatus(method, path, resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "could not decode response of %s %s", method, path)
	}
	return nil
}

func checkStatus(method, path string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	se := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var er errorResponse
	if err := json.Unmarshal(b, &er); err == nil && len(er.Detail) > 0 {
		var s string
		if err := json.Unmarshal(er.Detail, &s); err == nil {
			se.Detail = s
		} else {
			se.Detail = string(er.Detail)
		}
	} else {
		se.Detail = strings.TrimSpace(string(b))
	}

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("detail", se.Detail).
		Msg("Backend returned an error")
	return se
}
