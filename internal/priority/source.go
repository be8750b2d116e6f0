package priority

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPSource fetches the priority mapping from a reference-data endpoint
// returning {"unitName": priorityInt, ...}. A 404 or an empty URL behaves
// like an absent source: an empty map.
type HTTPSource struct {
	url        string
	httpClient *http.Client
}

func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Load(ctx context.Context) (map[string]int, error) {
	if s.url == "" {
		return map[string]int{}, nil
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build priority request: %w", err)
	}

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("fetch priority map: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return map[string]int{}, nil
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("priority source returned status %d", response.StatusCode)
	}

	values := make(map[string]int)
	if err := json.NewDecoder(response.Body).Decode(&values); err != nil {
		return nil, fmt.Errorf("decode priority map: %w", err)
	}
	return values, nil
}

// StaticSource serves a fixed mapping; used in tests and as a stand-in when
// reference data ships with the deployment.
type StaticSource map[string]int

func (s StaticSource) Load(context.Context) (map[string]int, error) {
	values := make(map[string]int, len(s))
	for unit, value := range s {
		values[unit] = value
	}
	return values, nil
}
