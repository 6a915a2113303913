//go:build async

package aleo

import (
	"context"
	"errors"
	"time"

	"github.com/valyala/fasthttp"
)

const transportMode = ModeAsync

// asyncTransport dispatches every attempt to its own goroutine over a
// pooled fasthttp client. The caller waits on the result or on ctx,
// whichever comes first; an abandoned attempt finishes within Config.Timeout.
type asyncTransport struct {
	client  *fasthttp.Client
	timeout time.Duration
}

type asyncResult struct {
	resp *rawResponse
	err  error
}

func newRoundTripper(config *Config) roundTripper {
	return &asyncTransport{
		client: &fasthttp.Client{
			Name:                DefaultUserAgent,
			MaxConnsPerHost:     config.TransportConfig.MaxConnsPerHost,
			MaxIdleConnDuration: config.TransportConfig.IdleConnTimeout,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,

			// Arguments are escaped path segments; %2F must reach the node as is.
			DisablePathNormalizing: true,
		},
		timeout: config.Timeout,
	}
}

func (a *asyncTransport) roundTrip(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) (*rawResponse, error) {
	op := method + " " + rawURL
	done := make(chan asyncResult, 1)

	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(rawURL)
		req.Header.SetMethod(method)
		for key, value := range headers {
			req.Header.Set(key, value)
		}
		if body != nil {
			req.SetBody(body)
		}

		if err := a.client.DoTimeout(req, resp, a.timeout); err != nil {
			done <- asyncResult{err: transportError(ctx, op, err, errors.Is(err, fasthttp.ErrTimeout))}
			return
		}

		done <- asyncResult{resp: &rawResponse{
			statusCode: resp.StatusCode(),
			requestID:  string(resp.Header.Peek("X-Request-ID")),
			body:       append([]byte(nil), resp.Body()...),
		}}
	}()

	select {
	case res := <-done:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, contextError(ctx.Err())
	}
}
