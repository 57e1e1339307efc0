// Package mock provides testify/mock implementations of the swish engine
// interfaces.
//
// It lets code built on swish set expectations on the native calls a
// Session makes, without a server.
//
// Usage:
//
//	e := mock.New()
//	tr := &mock.Transport{}
//	e.On("NewTransport").Return(tr, nil)
//	tr.On("Handshake", conn).Return(nil)
//	tr.On("Free").Return(nil)
//	s, err := swish.Connect(e, conn)
package mock
