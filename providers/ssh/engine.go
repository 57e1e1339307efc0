package ssh

import (
	"github.com/ruffel/swish"
	"go.uber.org/zap"
)

var _ swish.Engine = (*Engine)(nil)

// Engine implements swish.Engine for real SSH servers.
type Engine struct {
	config Config
}

// New builds an Engine from options applied over NewConfig defaults.
func New(opts ...Option) (*Engine, error) {
	c := NewConfig("", "")
	for _, opt := range opts {
		opt(&c)
	}

	c = c.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &Engine{config: c}, nil
}

// Config returns the validated configuration the engine was built with.
func (e *Engine) Config() Config {
	return e.config
}

// NewTransport allocates a transport. Nothing touches the network until
// Handshake.
func (e *Engine) NewTransport() (swish.Transport, error) {
	return newTransport(e.config), nil
}

func (e *Engine) logger() *zap.Logger {
	return e.config.Logger
}
