package client

import (
	"context"
	"fmt"
	"net/url"

	"slotbook/pkg/model"
)

// PoolClient calls the allocation API of one pool.
type PoolClient struct {
	httpClient *HttpClient
	pool       string
}

func NewPoolClient(baseURL, pool string) *PoolClient {
	return &PoolClient{
		httpClient: NewHttpClient(baseURL),
		pool:       pool,
	}
}

func (c *PoolClient) path(suffix string) string {
	return "/api/v1/pools/" + url.PathEscape(c.pool) + suffix
}

func (c *PoolClient) RegisterUnit(ctx context.Context, req model.RegisterUnitRequest) (*Response, error) {
	return c.httpClient.POST(ctx, c.path("/units"), req)
}

func (c *PoolClient) ListUnits(ctx context.Context) (*Response, error) {
	return c.httpClient.GET(ctx, c.path("/units"))
}

// Allocate sends the request with an Idempotency-Key when key is not empty.
func (c *PoolClient) Allocate(ctx context.Context, req model.AllocateRequest, key string) (*Response, error) {
	if key == "" {
		return c.httpClient.POST(ctx, c.path("/bookings"), req)
	}
	return c.httpClient.POSTWithHeaders(ctx, c.path("/bookings"), req, map[string]string{"Idempotency-Key": key})
}

func (c *PoolClient) Release(ctx context.Context, bookingID string, req model.ReleaseRequest) (*Response, error) {
	return c.httpClient.POST(ctx, c.path("/bookings/"+url.PathEscape(bookingID)+"/release"), req)
}

func (c *PoolClient) GetBooking(ctx context.Context, bookingID string) (*Response, error) {
	return c.httpClient.GET(ctx, c.path("/bookings/"+url.PathEscape(bookingID)))
}

func (c *PoolClient) ListBookings(ctx context.Context, status string, limit int, offset int64) (*Response, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("offset", fmt.Sprintf("%d", offset))
	return c.httpClient.GET(ctx, c.path("/bookings?"+q.Encode()))
}

func (c *PoolClient) SetPricing(ctx context.Context, req model.PricingRequest) (*Response, error) {
	return c.httpClient.PUT(ctx, c.path("/pricing"), req)
}

func (c *PoolClient) Stats(ctx context.Context) (*Response, error) {
	return c.httpClient.GET(ctx, c.path("/stats"))
}
