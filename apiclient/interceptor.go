package apiclient

import (
	"context"
	"time"
)

// InterceptorID identifies a registration returned by [Client.Use].
type InterceptorID uint64

// Exchange is one completed round trip as seen by interceptors. Exactly one
// of Response and Err is set.
type Exchange struct {
	Request  *Request
	Response *Response
	Err      error
	Duration time.Duration
}

// ResponseInterceptor may pass the exchange through, replace its result, or
// resubmit the request through c (with [Request.Retry]). The returned pair
// becomes the exchange seen by the next interceptor.
type ResponseInterceptor func(ctx context.Context, c *Client, ex Exchange) (*Response, error)

type registeredInterceptor struct {
	id InterceptorID
	fn ResponseInterceptor
}

// Use appends fn to the chain.
func (c *Client) Use(fn ResponseInterceptor) InterceptorID {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	c.interceptors = append(c.interceptors, registeredInterceptor{id: c.nextID, fn: fn})
	return c.nextID
}

// Eject removes a registration. Ejecting an unknown or already ejected ID is
// a no-op.
func (c *Client) Eject(id InterceptorID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, ic := range c.interceptors {
		if ic.id == id {
			c.interceptors = append(c.interceptors[:i:i], c.interceptors[i+1:]...)
			return
		}
	}
}

// Interceptors returns the number of registered interceptors.
func (c *Client) Interceptors() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.interceptors)
}

func (c *Client) intercept(ctx context.Context, ex Exchange) (*Response, error) {
	c.mu.RLock()
	chain := make([]registeredInterceptor, len(c.interceptors))
	copy(chain, c.interceptors)
	c.mu.RUnlock()

	resp, err := ex.Response, ex.Err
	for _, ic := range chain {
		resp, err = ic.fn(ctx, c, Exchange{
			Request:  ex.Request,
			Response: resp,
			Err:      err,
			Duration: ex.Duration,
		})
	}
	return resp, err
}
