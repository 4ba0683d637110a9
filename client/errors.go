package client

import "errors"

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotConnected     = errors.New("not connected")
	ErrEncodingOverflow = errors.New("encoding overflow")
	ErrTransport        = errors.New("transport error")
)
