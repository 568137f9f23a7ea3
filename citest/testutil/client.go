package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quizmentor-ai/quizmentor/pkg/types"
)

// Client is a minimal polling client against the relay API.
type Client struct {
	BaseURL   string
	Requester string

	http *http.Client
}

// NewClient creates a client that identifies as the given requester.
func NewClient(baseURL, requester string) *Client {
	return &Client{
		BaseURL:   baseURL,
		Requester: requester,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(method, path string, body, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Requester != "" {
		req.Header.Set("X-Requester-ID", c.Requester)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// StartStream starts a stream and returns its id.
func (c *Client) StartStream(req types.StartStreamRequest) (string, int, error) {
	var resp types.StartStreamResponse
	status, err := c.do(http.MethodPost, "/stream", req, &resp)
	return resp.StreamID, status, err
}

// Poll fetches the buffer state past the cursor.
func (c *Client) Poll(streamID string, cursor int) (types.PollResponse, int, error) {
	var resp types.PollResponse
	status, err := c.do(http.MethodGet, fmt.Sprintf("/stream/%s?cursor=%d", streamID, cursor), nil, &resp)
	return resp, status, err
}

// Abort cancels a stream.
func (c *Client) Abort(streamID string) (int, error) {
	return c.do(http.MethodPost, "/stream/"+streamID+"/abort", nil, nil)
}

// PollUntilDone polls until the stream reports a terminal state.
func (c *Client) PollUntilDone(streamID string, timeout time.Duration) (types.PollResponse, error) {
	deadline := time.Now().Add(timeout)
	cursor := 0
	for time.Now().Before(deadline) {
		resp, status, err := c.Poll(streamID, cursor)
		if err != nil {
			return resp, err
		}
		if status != http.StatusOK {
			return resp, fmt.Errorf("poll returned status %d", status)
		}
		cursor = resp.Cursor
		if resp.Done {
			return resp, nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return types.PollResponse{}, fmt.Errorf("stream %s never finished", streamID)
}
