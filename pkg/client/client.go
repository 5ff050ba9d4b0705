package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opwatch/opwatch/internal/util"
	"github.com/opwatch/opwatch/pkg/conversation"
)

type Operation struct {
	Id        string `json:"id"`
	Name      string `json:"name"`
	StartTime int64  `json:"startTime"`
}

type ListOperationsResponse struct {
	Count      int          `json:"count"`
	Operations []*Operation `json:"operations"`
}

// Error is returned for any response outside of the 2xx range.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

type RequestEditorFn func(ctx context.Context, req *http.Request) error

type Client struct {
	server         string
	http           *http.Client
	requestEditors []RequestEditorFn
}

func New() *Client {
	return &Client{
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Setup(server string) error {
	if _, err := url.ParseRequestURI(server); err != nil {
		return fmt.Errorf("invalid server %q: %w", server, err)
	}

	c.server = strings.TrimRight(server, "/")
	return nil
}

func (c *Client) SetBasicAuth(username, password string) {
	if username != "" && password != "" {
		c.requestEditors = append(c.requestEditors, basicAuth(username, password))
	}
}

func (c *Client) SetBearerToken(token string) {
	if token != "" {
		c.requestEditors = append(c.requestEditors, bearerToken(token))
	}
}

func (c *Client) ListOperations(ctx context.Context, name string) (*ListOperationsResponse, error) {
	path := "/operations"
	if name != "" {
		path += "?name=" + url.QueryEscape(name)
	}

	var res ListOperationsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

func (c *Client) ReadOperation(ctx context.Context, id string) (*Operation, error) {
	var res Operation
	if err := c.do(ctx, http.MethodGet, "/operations/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

func (c *Client) ReadMetadata(ctx context.Context, conversationId string, inboxId string) (*conversation.Metadata, error) {
	var res conversation.Metadata
	if err := c.do(ctx, http.MethodGet, metadataPath(conversationId, inboxId), nil, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

func (c *Client) UpdateMetadata(ctx context.Context, conversationId string, inboxId string, patch *conversation.Patch) (*conversation.Metadata, error) {
	var res conversation.Metadata
	if err := c.do(ctx, http.MethodPatch, metadataPath(conversationId, inboxId), patch, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

func (c *Client) do(ctx context.Context, method string, path string, body any, out any) error {
	util.Assert(c.server != "", "client must be setup")

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for _, edit := range c.requestEditors {
		if err := edit(ctx, req); err != nil {
			return err
		}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &Error{Status: res.StatusCode, Message: e.Error}
	}

	return json.Unmarshal(data, out)
}

// Helper functions

func metadataPath(conversationId string, inboxId string) string {
	return fmt.Sprintf("/conversations/%s/metadata?inbox=%s", url.PathEscape(conversationId), url.QueryEscape(inboxId))
}

func basicAuth(username, password string) RequestEditorFn {
	return func(ctx context.Context, req *http.Request) error {
		authHeader := "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
		req.Header.Set("Authorization", authHeader)
		return nil
	}
}

func bearerToken(token string) RequestEditorFn {
	return func(ctx context.Context, req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}
