package prober

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

var errNoReply = errors.New("no echo reply")

// Pinger measures round-trip latency to host. Any error means the host is
// treated as down.
type Pinger interface {
	Ping(ctx context.Context, host string, timeout time.Duration) (time.Duration, error)
}

// ServiceChecker runs the per-service checks. Results are plain booleans:
// a refused connection or a timeout is a normal "down", not an error.
type ServiceChecker interface {
	CheckTCP(ctx context.Context, host string, port int, timeout time.Duration) bool
	CheckHTTP(ctx context.Context, host string, port int, path string, timeout time.Duration) bool
}

// ICMPPinger sends a single echo request with pro-bing. Unprivileged mode
// uses UDP ping sockets and needs net.ipv4.ping_group_range on Linux.
type ICMPPinger struct {
	Privileged bool
}

// Ping implements Pinger.
func (p ICMPPinger) Ping(ctx context.Context, host string, timeout time.Duration) (rtt time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ping %s panicked: %v", host, r)
		}
	}()

	pinger, err := probing.NewPinger(host)
	if err != nil {
		return 0, err
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(p.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return 0, err
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, errNoReply
	}
	return stats.AvgRtt, nil
}

// NetChecker checks services with a plain TCP dial or an HTTP GET.
type NetChecker struct{}

// CheckTCP reports whether a TCP connection to host:port opens within timeout.
func (NetChecker) CheckTCP(ctx context.Context, host string, port int, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// CheckHTTP reports whether GET http://host:port/path answers 2xx or 3xx
// within timeout. Redirects are followed.
func (NetChecker) CheckHTTP(ctx context.Context, host string, port int, path string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}
