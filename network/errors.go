package network

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrListenerClosed   = errors.New("listener closed")
)
