package protocol

import (
	"encoding/json"
	"errors"
)

// JSON-RPC 2.0 error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

type ErrorParams struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type ErrorRpc struct {
	jsonRpcHead
	Params ErrorParams `json:"params"`
}

func NewErrorRpc(code int, message string) *ErrorRpc {
	return &ErrorRpc{
		jsonRpcHead: newHead(ErrorMethod),
		Params: ErrorParams{
			Code:    code,
			Message: message,
		},
	}
}

// ErrorRpcFrom picks the error code for a rejected request
func ErrorRpcFrom(err error) *ErrorRpc {
	code := CodeInvalidParams

	switch {
	case errors.Is(err, ErrUnknownRpcType):
		code = CodeMethodNotFound
	case errors.Is(err, ErrMalformedRpc):
		code = CodeParseError
	}

	return NewErrorRpc(code, err.Error())
}

func (r ErrorRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
