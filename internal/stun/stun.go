// Package stun discovers the relay's public UDP endpoint for /health.
package stun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/stun/v2"

	"github.com/The-Promised-Neverland/vsharing/pkg/logger"
)

const queryTimeout = 5 * time.Second

var ErrDisabled = errors.New("stun disabled")

type STUNClient struct {
	serverAddr string
	log        *slog.Logger

	mu              sync.RWMutex
	currentEndpoint string
	lastQuery       time.Time
}

type EndpointInfo struct {
	PublicEndpoint string
	Changed        bool
}

// NewSTUNClient returns nil when serverAddr is empty.
func NewSTUNClient(serverAddr string) *STUNClient {
	if serverAddr == "" {
		return nil
	}
	return &STUNClient{
		serverAddr: serverAddr,
		log:        logger.Log.With("component", "stun"),
	}
}

// GetCurrentEndpoint is "" until a query succeeds, and always "" on a nil
// client.
func (s *STUNClient) GetCurrentEndpoint() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentEndpoint
}

func (s *STUNClient) LastQuery() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastQuery
}

type queryResult struct {
	addr stun.XORMappedAddress
	err  error
}

// QueryEndpoint sends one binding request. The transaction runs to its own
// retransmit timeout even if ctx ends first.
func (s *STUNClient) QueryEndpoint(ctx context.Context) (*EndpointInfo, error) {
	if s == nil {
		return nil, ErrDisabled
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", s.serverAddr)
	if err != nil {
		return nil, fmt.Errorf("dial stun server: %w", err)
	}
	client, err := stun.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create stun client: %w", err)
	}

	resCh := make(chan queryResult, 1)
	go func() {
		defer client.Close()
		var r queryResult
		message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
		err := client.Do(message, func(res stun.Event) {
			if res.Error != nil {
				r.err = res.Error
				return
			}
			if err := r.addr.GetFrom(res.Message); err != nil {
				r.err = fmt.Errorf("read xor mapped address: %w", err)
			}
		})
		if err != nil && r.err == nil {
			r.err = err
		}
		resCh <- r
	}()

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var xorAddr stun.XORMappedAddress
	select {
	case r := <-resCh:
		if r.err != nil {
			return nil, fmt.Errorf("stun query: %w", r.err)
		}
		xorAddr = r.addr
	case <-ctx.Done():
		return nil, fmt.Errorf("stun query: %w", ctx.Err())
	}

	endpoint := net.JoinHostPort(xorAddr.IP.String(), fmt.Sprint(xorAddr.Port))
	s.mu.Lock()
	changed := s.currentEndpoint != endpoint
	s.currentEndpoint = endpoint
	s.lastQuery = time.Now()
	s.mu.Unlock()
	if changed {
		s.log.Info("public endpoint discovered", "endpoint", endpoint)
	}
	return &EndpointInfo{PublicEndpoint: endpoint, Changed: changed}, nil
}

func (s *STUNClient) StartPeriodicQuery(ctx context.Context, interval time.Duration) {
	if s == nil {
		return
	}
	if _, err := s.QueryEndpoint(ctx); err != nil {
		s.log.Warn("initial stun query failed", "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.QueryEndpoint(ctx); err != nil {
				s.log.Warn("periodic stun query failed", "error", err)
			}
		}
	}
}
