// Package rpcclient is a thin Go client over the controller's RPC surface,
// used by tests and available to any front-end that prefers typed calls
// over raw HTTP.
package rpcclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/xbat/xbatctld/pkg/rpc"
	"github.com/xbat/xbatctld/pkg/types"
)

// Client talks to one controller instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the controller at baseURL (e.g.
// "http://localhost:8080").
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SubmitBenchmark submits a benchmark and returns its run number.
func (c *Client) SubmitBenchmark(req rpc.SubmitBenchmarkRequest) (int64, error) {
	var resp rpc.SubmitBenchmarkResponse
	if err := c.post("/rpc/benchmarks", req, &resp); err != nil {
		return 0, err
	}
	return resp.RunNumber, nil
}

// GetJobs returns the scheduler adapter's cached job view.
func (c *Client) GetJobs() (map[int64]map[string]any, error) {
	var resp struct {
		Jobs map[int64]map[string]any `json:"jobs"`
	}
	if err := c.get("/rpc/jobs", &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetNodes returns the cached node view.
func (c *Client) GetNodes() (map[string]map[string]any, error) {
	var resp struct {
		Nodes map[string]map[string]any `json:"nodes"`
	}
	if err := c.get("/rpc/nodes", &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

// GetPartitions returns the cached partition -> hostnames mapping.
func (c *Client) GetPartitions() (map[string][]string, error) {
	var resp struct {
		Partitions map[string][]string `json:"partitions"`
	}
	if err := c.get("/rpc/partitions", &resp); err != nil {
		return nil, err
	}
	return resp.Partitions, nil
}

// CancelJobs cancels the given scheduler jobs.
func (c *Client) CancelJobs(jobIDs []int64) error {
	return c.post("/rpc/jobs/cancel", map[string]any{"jobIds": jobIDs}, nil)
}

// GetUserInfo resolves a username to uid/gid/home.
func (c *Client) GetUserInfo(username string) (*types.User, error) {
	var user types.User
	if err := c.get("/rpc/users/"+username, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// RegisterJob registers a starting job from a compute node.
func (c *Client) RegisterJob(jobID int64, req rpc.RegisterJobRequest) (*rpc.RegisterJobResponse, error) {
	var resp rpc.RegisterJobResponse
	if err := c.post(fmt.Sprintf("/rpc/jobs/%d/register", jobID), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PurgeQuestDB triggers an asynchronous orphan purge.
func (c *Client) PurgeQuestDB() error {
	return c.post("/rpc/purge", map[string]any{}, nil)
}

func (c *Client) get(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func (c *Client) post(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != "" {
			return fmt.Errorf("rpc error (%d): %s", resp.StatusCode, envelope.Error)
		}
		return fmt.Errorf("rpc error: status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
