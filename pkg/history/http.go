package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/papercomputeco/coach/pkg/llm"
)

// HTTPLoader loads history from the transcript API:
// GET {target}/threads/{id}/messages.
type HTTPLoader struct {
	target     string
	httpClient *http.Client
}

// NewHTTPLoader creates a loader for the API at target.
func NewHTTPLoader(target string, hc *http.Client) *HTTPLoader {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPLoader{
		target:     strings.TrimRight(target, "/"),
		httpClient: hc,
	}
}

// Load implements Loader.
func (l *HTTPLoader) Load(ctx context.Context, threadID string) ([]llm.Message, error) {
	endpoint := l.target + "/threads/" + url.PathEscape(threadID) + "/messages"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting history: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcript API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var history llm.HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}

	messages := make([]llm.Message, 0, len(history.Messages))
	for _, m := range history.Messages {
		messages = append(messages, llm.NewTextMessage(m.Role, m.Content))
	}
	return messages, nil
}
