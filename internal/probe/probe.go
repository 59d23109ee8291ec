// Package probe runs a local ICMP baseline against a check target so remote
// agent results can be compared with what this machine sees.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"ozzus/client-aeza/internal/domain"

	"github.com/go-ping/ping"
)

const (
	DefaultCount   = 4
	DefaultTimeout = 5 * time.Second
)

var ErrNoReply = errors.New("no packets received")

type Result struct {
	Target      string        `json:"target"`
	IP          string        `json:"ip"`
	Transmitted int           `json:"transmitted"`
	Received    int           `json:"received"`
	Loss        float64       `json:"loss"`
	MinRTT      time.Duration `json:"min_rtt"`
	AvgRTT      time.Duration `json:"avg_rtt"`
	MaxRTT      time.Duration `json:"max_rtt"`
}

func (r Result) String() string {
	return fmt.Sprintf("%s (%s): %d/%d received, %.0f%% loss, rtt %s/%s/%s",
		r.Target, r.IP, r.Received, r.Transmitted, r.Loss,
		formatMilliseconds(r.MinRTT), formatMilliseconds(r.AvgRTT), formatMilliseconds(r.MaxRTT))
}

type Pinger struct {
	count      int
	timeout    time.Duration
	privileged bool
	log        *slog.Logger
}

func NewPinger(count int, timeout time.Duration, privileged bool, log *slog.Logger) *Pinger {
	if count <= 0 {
		count = DefaultCount
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Pinger{
		count:      count,
		timeout:    timeout,
		privileged: privileged,
		log:        log.With(slog.String("component", "probe")),
	}
}

// Ping sends count echo requests to target. A :port suffix is ignored.
// Unprivileged mode needs net.ipv4.ping_group_range to include the user.
func (p *Pinger) Ping(ctx context.Context, target string) (Result, error) {
	host, err := normalizeHost(target)
	if err != nil {
		return Result{Target: target}, err
	}

	pinger, err := ping.NewPinger(host)
	if err != nil {
		return Result{Target: host}, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	pinger.Count = p.count
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(p.privileged)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	p.log.Debug("pinging", slog.String("host", host), slog.Int("count", p.count))

	if err := pinger.Run(); err != nil {
		return Result{Target: host}, fmt.Errorf("ping %s: %w", host, err)
	}
	if err := ctx.Err(); err != nil {
		return resultFromStats(host, pinger.Statistics()), err
	}

	res := resultFromStats(host, pinger.Statistics())
	if res.Received == 0 {
		return res, ErrNoReply
	}

	return res, nil
}

func resultFromStats(host string, stats *ping.Statistics) Result {
	res := Result{Target: host, IP: host}
	if stats == nil {
		return res
	}

	if stats.IPAddr != nil {
		res.IP = stats.IPAddr.String()
	}
	res.Transmitted = stats.PacketsSent
	res.Received = stats.PacketsRecv
	res.Loss = stats.PacketLoss
	res.MinRTT = stats.MinRtt
	res.AvgRTT = stats.AvgRtt
	res.MaxRTT = stats.MaxRtt

	return res
}

func normalizeHost(target string) (string, error) {
	target = strings.TrimSpace(target)
	if err := domain.ValidateTarget(target); err != nil {
		return "", err
	}

	if host, _, err := net.SplitHostPort(target); err == nil {
		return host, nil
	}

	return target, nil
}

func formatMilliseconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1f ms", float64(d.Microseconds())/1000.0)
}
