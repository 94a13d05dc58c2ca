package ontology

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Client supplies display labels for processes, repositories and parameters.
// Implementations must degrade gracefully: a down ontology service yields
// empty metadata, never an error surfaced to the caller.
type Client interface {
	ProcessLabel(process, repository string) (processLabel, repositoryLabel string)
	ParameterLabels(ids []string) map[string]string
}

// HTTPClient talks to the ontology relay over HTTP. Failures put the client
// into a cooldown window during which calls return empty results without
// touching the network.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	cooldown time.Duration

	mu            sync.Mutex
	cooldownUntil time.Time
}

// NewHTTPClient creates an ontology client with the given cooldown window
func NewHTTPClient(endpoint string, cooldown time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		cooldown: cooldown,
	}
}

func (c *HTTPClient) coolingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.cooldownUntil)
}

func (c *HTTPClient) enterCooldown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cooldownUntil = time.Now().Add(c.cooldown)
	log.Warnf("ontology service unavailable, cooling down for %s: %v", c.cooldown, err)
}

// ProcessLabel returns display names for a process and its repository,
// or empty strings when the service is unavailable
func (c *HTTPClient) ProcessLabel(process, repository string) (string, string) {
	if c.endpoint == "" || c.coolingDown() {
		return "", ""
	}

	u := fmt.Sprintf("%s/v1/process/%s/%s", c.endpoint, url.PathEscape(repository), url.PathEscape(process))
	resp, err := c.client.Get(u)
	if err != nil {
		c.enterCooldown(err)
		return "", ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.enterCooldown(fmt.Errorf("status %d", resp.StatusCode))
		return "", ""
	}

	var body struct {
		ProcessLabel    string `json:"process_label"`
		RepositoryLabel string `json:"repository_label"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", ""
	}
	return body.ProcessLabel, body.RepositoryLabel
}

// ParameterLabels returns display names for parameter ids, or an empty map
// when the service is unavailable
func (c *HTTPClient) ParameterLabels(ids []string) map[string]string {
	if c.endpoint == "" || c.coolingDown() || len(ids) == 0 {
		return map[string]string{}
	}

	q := url.Values{}
	for _, id := range ids {
		q.Add("id", id)
	}
	resp, err := c.client.Get(c.endpoint + "/v1/parameters?" + q.Encode())
	if err != nil {
		c.enterCooldown(err)
		return map[string]string{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.enterCooldown(fmt.Errorf("status %d", resp.StatusCode))
		return map[string]string{}
	}

	labels := map[string]string{}
	if err := json.NewDecoder(resp.Body).Decode(&labels); err != nil {
		return map[string]string{}
	}
	return labels
}

// NoopClient returns empty metadata; used in tests and local mode
type NoopClient struct{}

func (NoopClient) ProcessLabel(_, _ string) (string, string)    { return "", "" }
func (NoopClient) ParameterLabels(_ []string) map[string]string { return map[string]string{} }
