package timer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// HTTPFetcher reads snapshots from the API's batch endpoint.
type HTTPFetcher struct {
	baseURL string
	token   string
	timeout time.Duration
}

// NewHTTPFetcher builds a fetcher against baseURL, e.g. http://localhost:8080.
func NewHTTPFetcher(baseURL, token string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPFetcher{baseURL: strings.TrimRight(baseURL, "/"), token: token, timeout: timeout}
}

type snapshotsResponse struct {
	Data []domain.SLASnapshot `json:"data"`
}

// Fetch implements Fetcher. Ids are requested in batches the API accepts and
// the results concatenated; any failed batch fails the whole fetch.
func (f *HTTPFetcher) Fetch(ctx context.Context, ticketIDs []string) ([]domain.SLASnapshot, error) {
	var all []domain.SLASnapshot
	for start := 0; start < len(ticketIDs); start += domain.MaxSnapshotBatch {
		end := min(start+domain.MaxSnapshotBatch, len(ticketIDs))
		batch, err := f.fetchBatch(ctx, ticketIDs[start:end])
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
	return all, nil
}

func (f *HTTPFetcher) fetchBatch(ctx context.Context, ticketIDs []string) ([]domain.SLASnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ticketIDs, ","))
	a := fiber.Get(f.baseURL + "/sla/tickets?" + q.Encode())
	a.Timeout(f.timeout)
	if f.token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+f.token)
	}
	if err := a.Parse(); err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}

	var resp snapshotsResponse
	code, body, errs := a.Struct(&resp)
	if len(errs) > 0 {
		if code != 0 && code != fiber.StatusOK {
			return nil, fmt.Errorf("snapshot request returned %d: %s", code, body)
		}
		return nil, fmt.Errorf("snapshot request: %w", errs[0])
	}
	if code != fiber.StatusOK {
		return nil, fmt.Errorf("snapshot request returned %d: %s", code, body)
	}
	return resp.Data, nil
}
