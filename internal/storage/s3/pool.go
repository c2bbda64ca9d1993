package s3

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ConnectionPool bounds the number of concurrent S3 calls. Clients are
// created lazily by the factory up to maxSize and reused afterwards.
type ConnectionPool struct {
	mu          sync.Mutex
	connections chan *s3.Client
	slots       chan struct{}
	factory     func() (*s3.Client, error)
	maxSize     int
	closed      bool

	stats PoolStats
}

// PoolStats tracks connection pool statistics
type PoolStats struct {
	Active      int       `json:"active"`
	Idle        int       `json:"idle"`
	MaxSize     int       `json:"max_size"`
	Hits        int64     `json:"hits"`
	Waits       int64     `json:"waits"`
	Created     int64     `json:"created"`
	Errors      int64     `json:"errors"`
	LastError   string    `json:"last_error"`
	LastErrorAt time.Time `json:"last_error_at"`
}

// NewConnectionPool creates a new connection pool
func NewConnectionPool(maxSize int, factory func() (*s3.Client, error)) (*ConnectionPool, error) {
	if maxSize <= 0 {
		maxSize = 8
	}
	if factory == nil {
		return nil, fmt.Errorf("connection factory cannot be nil")
	}

	return &ConnectionPool{
		connections: make(chan *s3.Client, maxSize),
		slots:       make(chan struct{}, maxSize),
		factory:     factory,
		maxSize:     maxSize,
		stats:       PoolStats{MaxSize: maxSize},
	}, nil
}

// Get acquires a client, waiting for a free slot until ctx is done.
func (p *ConnectionPool) Get(ctx context.Context) (*s3.Client, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("connection pool is closed")
	}
	p.mu.Unlock()

	select {
	case p.slots <- struct{}{}:
	default:
		p.mu.Lock()
		p.stats.Waits++
		p.mu.Unlock()
		select {
		case p.slots <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	select {
	case conn := <-p.connections:
		p.mu.Lock()
		p.stats.Hits++
		p.stats.Active++
		p.mu.Unlock()
		return conn, nil
	default:
	}

	conn, err := p.factory()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		<-p.slots
		p.stats.Errors++
		p.stats.LastError = err.Error()
		p.stats.LastErrorAt = time.Now()
		return nil, err
	}
	p.stats.Created++
	p.stats.Active++
	return conn, nil
}

// Put returns a client to the pool and frees its slot.
func (p *ConnectionPool) Put(conn *s3.Client) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	p.stats.Active--
	closed := p.closed
	p.mu.Unlock()

	if !closed {
		select {
		case p.connections <- conn:
		default:
		}
	}
	<-p.slots
}

// Stats returns current pool statistics
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.Idle = len(p.connections)
	return stats
}

// Close marks the pool closed; later Get calls fail.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	for {
		select {
		case <-p.connections:
		default:
			return nil
		}
	}
}
