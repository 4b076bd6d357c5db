package randomness

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	domain "github.com/R3E-Network/lotto_layer/internal/domain/randomness"
	"github.com/R3E-Network/lotto_layer/pkg/logger"
)

// HTTPResolver polls an HTTP endpoint for randomness request status.
type HTTPResolver struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

var _ Resolver = (*HTTPResolver)(nil)

// NewHTTPResolver constructs a resolver using the provided endpoint.
func NewHTTPResolver(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPResolver, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("resolver endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse resolver endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("randomness-http-resolver")
	}
	return &HTTPResolver{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

func (r *HTTPResolver) Resolve(ctx context.Context, req domain.Request) (bool, bool, uint64, string, string, time.Duration, error) {
	requestURL := *r.endpoint
	q := requestURL.Query()
	q.Set("request_id", req.ID)
	q.Set("seed", req.Seed)
	requestURL.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return false, false, 0, "", "", 0, fmt.Errorf("build resolver request: %w", err)
	}
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return false, false, 0, "", "", 0, fmt.Errorf("resolver request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, false, 0, "", "", 0, fmt.Errorf("resolver status %d", resp.StatusCode)
	}

	var payload struct {
		Done       bool    `json:"done"`
		Success    bool    `json:"success"`
		Value      string  `json:"value"` // decimal uint64
		Proof      string  `json:"proof"`
		Error      string  `json:"error"`
		RetryAfter float64 `json:"retry_after_seconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, false, 0, "", "", 0, fmt.Errorf("decode resolver response: %w", err)
	}

	retry := time.Duration(payload.RetryAfter * float64(time.Second))
	if retry <= 0 {
		retry = 5 * time.Second
	}

	if !payload.Done {
		return false, false, 0, "", "", retry, nil
	}

	if payload.Success {
		raw, err := strconv.ParseUint(strings.TrimSpace(payload.Value), 10, 64)
		if err != nil {
			return false, false, 0, "", "", 0, fmt.Errorf("decode resolver value: %w", err)
		}
		return true, true, raw, payload.Proof, "", 0, nil
	}
	return true, false, 0, "", payload.Error, 0, nil
}
