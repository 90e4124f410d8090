package session

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid peer link transition")
	ErrManagerClosed     = errors.New("session manager is closed")
	ErrNoLink            = errors.New("no peer link for remote participant")
	ErrNoDataChannel     = errors.New("peer link has no data channel")
)

// NegotiationError is a failed description or offer/answer step. The link it belongs to is Failed.
type NegotiationError struct {
	RemoteID string
	Op       string
	Err      error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s: %s: %v", e.RemoteID, e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// MediaAcquisitionError means local media is missing. The manager keeps running without it.
type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("media acquisition: %v", e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error {
	return e.Err
}
