package companion

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/kajande/dulayni-cli/internal/constants"
)

// Prober talks to a helper's private health contract.
type Prober interface {
	// Healthy reports whether GET /health on port answers 2xx.
	Healthy(ctx context.Context, port int) bool
	// Shutdown sends POST /shutdown to port.
	Shutdown(ctx context.Context, port int) error
}

// HTTPProber is the Prober used against real helpers on localhost.
type HTTPProber struct {
	client *resty.Client
	host   string
}

// NewHTTPProber creates a prober for helpers listening on localhost.
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		client: resty.New().SetTimeout(constants.ShutdownRequestTimeout),
		host:   "localhost",
	}
}

func (p *HTTPProber) url(port int, path string) string {
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(p.host, strconv.Itoa(port)), path)
}

// Healthy implements Prober.
func (p *HTTPProber) Healthy(ctx context.Context, port int) bool {
	resp, err := p.client.R().SetContext(ctx).Get(p.url(port, "/health"))
	if err != nil {
		return false
	}
	return resp.IsSuccess()
}

// Shutdown implements Prober.
func (p *HTTPProber) Shutdown(ctx context.Context, port int) error {
	resp, err := p.client.R().SetContext(ctx).Post(p.url(port, "/shutdown"))
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("shutdown on port %d: HTTP %d", port, resp.StatusCode())
	}
	return nil
}

// portFree reports whether nothing accepts connections on localhost:port.
func portFree(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)), constants.PortProbeTimeout)
	if err != nil {
		return true
	}
	_ = conn.Close()
	return false
}
