package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiClient is a thin wrapper over the server's JSON API. Responses
// arrive in a {"data": ...} envelope; failures in {"error": ...}.
type apiClient struct {
	base string
	http *http.Client
}

func newClient() *apiClient {
	return &apiClient{
		base: strings.TrimRight(serverURL, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *errorBody      `json:"error"`
}

// get issues a GET and decodes the data envelope into out.
func (c *apiClient) get(path string, query url.Values, out interface{}) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	resp, err := c.http.Get(u)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	return decodeEnvelope(resp, out)
}

// postJSON issues a POST with a JSON body and decodes the data
// envelope into out. A nil body sends an empty request.
func (c *apiClient) postJSON(path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	resp, err := c.http.Post(c.base+path, "application/json", reader)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	return decodeEnvelope(resp, out)
}

// postText issues a POST with a text/plain body.
func (c *apiClient) postText(path, body string, out interface{}) error {
	resp, err := c.http.Post(c.base+path, "text/plain", strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	return decodeEnvelope(resp, out)
}

// decodeEnvelope unwraps a response envelope, turning API errors into
// Go errors. out may be nil when the caller only cares about success.
func decodeEnvelope(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}
	}

	if env.Error != nil {
		return fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
