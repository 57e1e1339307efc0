package swish

import "go.uber.org/zap"

// Option configures a Session at Connect time.
type Option func(*config)

type config struct {
	disconnectMessage string
	logger            *zap.Logger
}

func defaultConfig() config {
	return config{logger: zap.NewNop()}
}

// WithDisconnectMessage makes Close send msg to the server before freeing
// the connection. Without it no disconnect notification is sent.
func WithDisconnectMessage(msg string) Option {
	return func(c *config) {
		c.disconnectMessage = msg
	}
}

// WithLogger sets the logger used by the session and everything derived
// from it.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}
