//go:build !async

package aleo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"
)

const transportMode = ModeBlocking

// blockingTransport runs each attempt on the calling goroutine.
type blockingTransport struct {
	client *http.Client
}

func newRoundTripper(config *Config) roundTripper {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        config.TransportConfig.MaxIdleConns,
		MaxIdleConnsPerHost: config.TransportConfig.MaxConnsPerHost,
		MaxConnsPerHost:     config.TransportConfig.MaxConnsPerHost,
		IdleConnTimeout:     config.TransportConfig.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &blockingTransport{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
	}
}

func (b *blockingTransport) roundTrip(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) (*rawResponse, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, NewError(ErrorTypeValidation, "failed to create request", err).
			WithContext(&ErrorContext{URL: rawURL, Method: method})
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	op := method + " " + rawURL
	resp, err := b.client.Do(req)
	if err != nil {
		var netErr net.Error
		return nil, transportError(ctx, op, err, errors.As(err, &netErr) && netErr.Timeout())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, "reading response", err, false)
	}

	return &rawResponse{
		statusCode: resp.StatusCode,
		requestID:  resp.Header.Get("X-Request-ID"),
		body:       respBody,
	}, nil
}
