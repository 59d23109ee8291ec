package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ozzus/client-aeza/internal/domain"
)

var ErrUnsupported = errors.New("not supported as a local probe")

// Outcome is one local baseline check of a target.
type Outcome struct {
	Type     domain.CheckType `json:"type"`
	OK       bool             `json:"ok"`
	Duration time.Duration    `json:"duration"`
	IP       string           `json:"ip,omitempty"`
	Detail   string           `json:"detail,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Prober runs the same check types the agents run, from this machine.
type Prober struct {
	pinger   *Pinger
	timeout  time.Duration
	client   *http.Client
	resolver *net.Resolver
	log      *slog.Logger
}

func NewProber(pinger *Pinger, timeout time.Duration, log *slog.Logger) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Prober{
		pinger:   pinger,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		resolver: net.DefaultResolver,
		log:      log.With(slog.String("component", "probe")),
	}
}

// Run probes target once per check type, in order.
func (p *Prober) Run(ctx context.Context, target string, checks []domain.CheckType) []Outcome {
	out := make([]Outcome, 0, len(checks))

	for _, c := range checks {
		if ctx.Err() != nil {
			break
		}

		var o Outcome
		switch c {
		case domain.CheckTypePing:
			o = p.probePing(ctx, target)
		case domain.CheckTypeHTTP:
			o = p.probeHTTP(ctx, target, "http")
		case domain.CheckTypeHTTPS:
			o = p.probeHTTP(ctx, target, "https")
		case domain.CheckTypeTCP:
			o = p.probeTCP(ctx, target)
		case domain.CheckTypeDNS:
			o = p.probeDNS(ctx, target)
		default:
			o = Outcome{Error: fmt.Sprintf("%s: %v", c, ErrUnsupported)}
		}
		o.Type = c

		p.log.Debug("probe finished",
			slog.String("type", string(c)),
			slog.Bool("ok", o.OK),
			slog.Duration("duration", o.Duration),
		)
		out = append(out, o)
	}

	return out
}

func (p *Prober) probePing(ctx context.Context, target string) Outcome {
	if p.pinger == nil {
		return Outcome{Error: "ping: " + ErrUnsupported.Error()}
	}

	res, err := p.pinger.Ping(ctx, target)
	o := Outcome{
		OK:       err == nil,
		Duration: res.AvgRTT,
		IP:       res.IP,
		Detail:   fmt.Sprintf("%d/%d received, %.0f%% loss", res.Received, res.Transmitted, res.Loss),
	}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

func (p *Prober) probeHTTP(ctx context.Context, target, scheme string) Outcome {
	resolvedURL, err := prepareURL(target, scheme)
	if err != nil {
		return Outcome{Error: fmt.Sprintf("invalid url: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolvedURL, nil)
	if err != nil {
		return Outcome{Error: err.Error()}
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return Outcome{Duration: duration, Error: err.Error()}
	}
	defer resp.Body.Close()

	// Ensure body is fully read to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	return Outcome{
		OK:       resp.StatusCode < http.StatusBadRequest,
		Duration: duration,
		IP:       p.lookupIP(ctx, req.URL.Hostname()),
		Detail:   resp.Status,
	}
}

// probeTCP connects to target, on port 80 when target has no port.
func (p *Prober) probeTCP(ctx context.Context, target string) Outcome {
	addr := target
	if _, _, err := net.SplitHostPort(target); err != nil {
		addr = net.JoinHostPort(target, "80")
	}

	dialer := net.Dialer{Timeout: p.timeout}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	duration := time.Since(start)
	if err != nil {
		return Outcome{Duration: duration, Error: err.Error()}
	}
	defer conn.Close()

	ip := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	return Outcome{OK: true, Duration: duration, IP: ip, Detail: "connected to " + addr}
}

func (p *Prober) probeDNS(ctx context.Context, target string) Outcome {
	host, err := normalizeHost(target)
	if err != nil {
		return Outcome{Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	addrs, err := p.resolver.LookupHost(ctx, host)
	duration := time.Since(start)
	if err != nil {
		return Outcome{Duration: duration, Error: err.Error()}
	}

	o := Outcome{OK: true, Duration: duration, Detail: strings.Join(addrs, ", ")}
	if len(addrs) > 0 {
		o.IP = addrs[0]
	}
	return o
}

func (p *Prober) lookupIP(ctx context.Context, host string) string {
	addrs, err := p.resolver.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		return host
	}
	return addrs[0]
}

func prepareURL(target, scheme string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("empty target")
	}

	if !strings.Contains(target, "://") {
		target = scheme + "://" + target
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return "", err
	}

	return parsed.String(), nil
}
