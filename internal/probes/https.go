package probes

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// DefaultHTTPSClientTimeout caps a single endpoint request.
const DefaultHTTPSClientTimeout = 10 * time.Second

// Resolver resolves a host to addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// ParseEndpointURL accepts only absolute URLs with a scheme and host.
func ParseEndpointURL(raw string) (*url.URL, error) {
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, xerrors.Newf("%s is not a well-formed absolute URI string. Check app setting HTTPS_ENDPOINT_URLS and try again.", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, xerrors.Newf("%s is not a well-formed absolute URI string. Check app setting HTTPS_ENDPOINT_URLS and try again.", raw)
	}
	return u, nil
}

// NewHTTPClient returns the client shared by all endpoint probes.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPSClientTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// HTTPS issues a GET and is healthy on any 2xx status. The endpoint's
// resolved addresses, or the resolution error, are attached as "IP".
type HTTPS struct {
	URL      *url.URL
	Client   *http.Client
	Resolver Resolver
}

func NewHTTPS(raw string, client *http.Client) (*HTTPS, error) {
	u, err := ParseEndpointURL(raw)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &HTTPS{URL: u, Client: client, Resolver: net.DefaultResolver}, nil
}

func (p *HTTPS) Run(ctx context.Context) (health.Outcome, error) {
	start := time.Now()
	ip := p.resolve(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL.String(), nil)
	if err != nil {
		return health.Outcome{}, xerrors.Wrap(err, "build request")
	}
	req.Close = true
	req.Header.Set("Connection", "close")

	resp, err := p.Client.Do(req)
	if err != nil {
		return health.Unhealthy(start, err.Error(), err, health.KV("IP", ip)), nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := xerrors.Newf("response status code does not indicate success: %d (%s)", resp.StatusCode, http.StatusText(resp.StatusCode))
		return health.Unhealthy(start, err.Error(), err, health.KV("IP", ip)), nil
	}
	return health.Healthy(start,
		fmt.Sprintf("GET %s succeeded with status %d", p.URL.Redacted(), resp.StatusCode),
		health.KV("IP", ip),
	), nil
}

func (p *HTTPS) resolve(ctx context.Context) string {
	if p.Resolver == nil {
		return ""
	}
	addrs, err := p.Resolver.LookupIPAddr(ctx, p.URL.Hostname())
	if err != nil {
		return err.Error()
	}
	ips := make([]string, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP.String())
	}
	return strings.Join(ips, ", ")
}
