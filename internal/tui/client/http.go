package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient makes REST calls to the kiosk daemon.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// State fetches /api/state.
func (c *HTTPClient) State() (*State, error) {
	var s State
	if err := c.get("/api/state", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Health fetches /api/health.
func (c *HTTPClient) Health() (*HealthPayload, error) {
	var h HealthPayload
	if err := c.get("/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Activate sends POST /api/activate.
func (c *HTTPClient) Activate() (*State, error) {
	var s State
	if err := c.post("/api/activate", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Deactivate sends POST /api/deactivate.
func (c *HTTPClient) Deactivate() (*State, error) {
	var s State
	if err := c.post("/api/deactivate", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Emit sends POST /api/emit.
func (c *HTTPClient) Emit(ev UIEvent) error {
	return c.post("/api/emit", ev, nil)
}

func (c *HTTPClient) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) post(path string, body interface{}, out interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("POST %s: %d %s", path, resp.StatusCode, bytes.TrimSpace(respBody))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
