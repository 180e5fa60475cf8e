package corrector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Settings configures the LLM call. Zero fields take the defaults below.
type Settings struct {
	Endpoint    string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

const (
	defaultEndpoint = "http://127.0.0.1:11434"
	defaultModel    = "mistral"
	defaultTimeout  = 30 * time.Second
)

const promptTemplate = `Correct this Malayalam word in the given context. Only reply with the corrected word.
       Word: %q
       Context: %q
       Important: Only reply with the corrected Malayalam word, nothing else.`

// Client is safe for concurrent use. Settings may be replaced at runtime.
type Client struct {
	mu       sync.RWMutex
	settings Settings
	client   *http.Client
}

// New creates a Client.
func New(s Settings) *Client {
	c := &Client{client: &http.Client{}}
	c.SetSettings(s)
	return c
}

// SetSettings replaces the endpoint, model, temperature and timeout.
func (c *Client) SetSettings(s Settings) {
	if s.Endpoint == "" {
		s.Endpoint = defaultEndpoint
	}
	if s.Model == "" {
		s.Model = defaultModel
	}
	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}
	s.Endpoint = strings.TrimRight(s.Endpoint, "/")
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
}

// Settings returns the active settings.
func (c *Client) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Options generateOptions `json:"options"`
	Stream  bool            `json:"stream"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Correct returns the LLM's correction of word as used in sentence. On error,
// or when the model replies with nothing usable, it returns word unchanged.
func (c *Client) Correct(ctx context.Context, word, sentence string) (string, error) {
	s := c.Settings()
	body, err := json.Marshal(generateRequest{
		Model:   s.Model,
		Prompt:  fmt.Sprintf(promptTemplate, word, sentence),
		Options: generateOptions{Temperature: s.Temperature},
	})
	if err != nil {
		return word, fmt.Errorf("corrector: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var out generateResponse
	if err := c.post(ctx, s.Endpoint+"/api/generate", body, &out); err != nil {
		return word, fmt.Errorf("corrector: %w", err)
	}

	corrected := clean(out.Response)
	if corrected == "" {
		return word, nil
	}
	return corrected, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("llm returned HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// clean trims whitespace and at most one quote character at each end.
func clean(s string) string {
	s = strings.TrimSpace(s)
	if s != "" && strings.ContainsRune(`"'`, rune(s[0])) {
		s = s[1:]
	}
	if s != "" && strings.ContainsRune(`"'`, rune(s[len(s)-1])) {
		s = s[:len(s)-1]
	}
	return s
}
