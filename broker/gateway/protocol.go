// Package gateway speaks the broker contract over a websocket: a Client that
// implements broker.Broker against a remote venue, and a Server that exposes
// any broker.Broker to such clients.
package gateway

import (
	"errors"

	"github.com/rustyeddy/smc/broker"
)

const (
	opSubmit = "submit"
	opCancel = "cancel"
	opStatus = "status"
)

type request struct {
	ID    uint64               `json:"id"`
	Op    string               `json:"op"`
	Order *broker.OrderRequest `json:"order,omitempty"`
	Ref   string               `json:"ref,omitempty"`
}

// response carries either the answer to request ID or, with ID zero, a pushed
// event.
type response struct {
	ID     uint64              `json:"id,omitempty"`
	Ack    *broker.Ack         `json:"ack,omitempty"`
	Status *broker.OrderStatus `json:"status,omitempty"`
	Error  *wireError          `json:"error,omitempty"`
	Event  *broker.Event       `json:"event,omitempty"`
}

type wireError struct {
	Kind broker.FaultKind `json:"kind"`
	Msg  string           `json:"msg"`
}

func toWire(err error) *wireError {
	if err == nil {
		return nil
	}
	if f, ok := broker.AsFault(err); ok {
		return &wireError{Kind: f.Kind, Msg: err.Error()}
	}
	return &wireError{Kind: broker.FaultRejected, Msg: err.Error()}
}

func (w *wireError) fault(op string) error {
	return &broker.Fault{Op: op, Kind: w.Kind, Err: errors.New(w.Msg)}
}
