//go:build integration

package containers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NtfyContainer runs an ntfy push server that notification tests deliver to.
type NtfyContainer struct {
	container testcontainers.Container
	host      string
	port      int
	client    *http.Client
}

// NtfyMessage is one message read back from a topic.
type NtfyMessage struct {
	ID       string `json:"id"`
	Topic    string `json:"topic"`
	Message  string `json:"message"`
	Title    string `json:"title"`
	Priority int    `json:"priority"`
}

// NewNtfyContainer starts binwiederhier/ntfy:<tag>. An empty tag means latest.
func NewNtfyContainer(ctx context.Context, tag string) (*NtfyContainer, error) {
	if tag == "" {
		tag = "latest"
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "binwiederhier/ntfy:" + tag,
			ExposedPorts: []string{"80/tcp"},
			Cmd:          []string{"serve", "--cache-file=/tmp/ntfy/cache.db"},
			Tmpfs:        map[string]string{"/tmp/ntfy": "rw"},
			WaitingFor: wait.ForHTTP("/v1/health").
				WithPort("80/tcp").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start ntfy container: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get ntfy host: %w", err)
	}
	port, err := c.MappedPort(ctx, "80")
	if err != nil {
		_ = c.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get ntfy port: %w", err)
	}

	return &NtfyContainer{
		container: c,
		host:      host,
		port:      port.Int(),
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Addr returns host:port of the server.
func (c *NtfyContainer) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// ShoutrrrURL returns a plain-HTTP shoutrrr URL that publishes to topic.
func (c *NtfyContainer) ShoutrrrURL(topic string) string {
	return fmt.Sprintf("ntfy://%s/%s?scheme=http", c.Addr(), topic)
}

// Messages polls every cached message on topic.
func (c *NtfyContainer) Messages(ctx context.Context, topic string) ([]NtfyMessage, error) {
	url := fmt.Sprintf("http://%s/%s/json?poll=1", c.Addr(), topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build poll request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll %s: %w", topic, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("poll %s returned %d: %s", topic, resp.StatusCode, string(body))
	}

	// One JSON object per line; open and keepalive events carry no message.
	var messages []NtfyMessage
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var m NtfyMessage
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return nil, fmt.Errorf("failed to decode ntfy message: %w", err)
		}
		if m.Message == "" {
			continue
		}
		messages = append(messages, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read poll response: %w", err)
	}
	return messages, nil
}

// Terminate stops and removes the container.
func (c *NtfyContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate ntfy container: %w", err)
	}
	return nil
}
