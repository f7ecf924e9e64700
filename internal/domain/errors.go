package domain

import "errors"

var (
	ErrConfiguration = errors.New("configuration error")
	ErrDecode        = errors.New("decode error")
	ErrEncode        = errors.New("encode error")
	ErrTransfer      = errors.New("transfer error")
	ErrCatalog       = errors.New("catalog error")
	ErrFatalSetup    = errors.New("fatal setup error")
)
