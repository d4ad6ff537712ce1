package lib

import "github.com/pkg/errors"

var (
	ErrShortSegment      = errors.New("segment shorter than a TCP header")
	ErrConnectionClosing = errors.New("connection is closing")
	ErrConnectionClosed  = errors.New("connection is closed")
	ErrListenerClosed    = errors.New("listener is closed")
	ErrNoAdapter         = errors.New("no adapter given")
)
