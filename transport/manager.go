package transport

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"nats-rpc/config"
	"nats-rpc/rpcerror"
)

// Manager hands out call-scoped connections. It holds no connections itself:
// every Acquire dials, every Release closes.
type Manager struct {
	provider config.Provider
	dialer   Dialer
	logger   *zap.Logger
}

// NewManager creates a manager reading settings from provider and dialing
// through dialer. A nil logger disables logging.
func NewManager(provider config.Provider, dialer Dialer, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{provider: provider, dialer: dialer, logger: logger}
}

// Settings loads the settings for one call.
func (m *Manager) Settings(ctx context.Context) (config.Settings, error) {
	if m.provider == nil {
		return config.Settings{}, fmt.Errorf("%w: no configuration provider", rpcerror.ErrConnection)
	}
	s, err := m.provider.Load(ctx)
	if err != nil {
		return config.Settings{}, fmt.Errorf("%w: load settings: %v", rpcerror.ErrConnection, err)
	}
	return s, nil
}

// Acquire dials a connection for one call using s. The returned lease must be
// released; Release is safe to call more than once.
func (m *Manager) Acquire(ctx context.Context, s config.Settings) (*Lease, error) {
	addrs := s.Addresses()
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no server address configured", rpcerror.ErrConnection)
	}

	conn, err := m.dialer.Dial(ctx, addrs, s.Options)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rpcerror.ErrConnection, err)
	}

	m.logger.Debug("connection acquired", zap.Strings("servers", addrs))
	return &Lease{conn: conn, logger: m.logger}, nil
}

// Lease owns one connection for the duration of a call.
type Lease struct {
	conn   Conn
	logger *zap.Logger
	once   sync.Once
}

// Conn returns the leased connection.
func (l *Lease) Conn() Conn {
	return l.conn
}

// Release closes the connection exactly once.
func (l *Lease) Release() {
	l.once.Do(func() {
		if err := l.conn.Close(); err != nil {
			l.logger.Warn("connection close failed", zap.Error(err))
		}
	})
}
