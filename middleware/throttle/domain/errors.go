package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration é retornado na construção (nome vazio, threshold negativo,
	// política desconhecida). Nunca no meio de uma decisão.
	ErrInvalidConfiguration = errors.New("invalid throttle configuration")

	// ErrConnectivity permite errors.Is(err, ErrConnectivity) sobre *ConnectivityError.
	ErrConnectivity = errors.New("throttle store unavailable")
)

// ConnectivityError indica que o store compartilhado não completou a chamada.
// A decisão não foi tomada; cabe ao chamador escolher fail-open ou fail-closed.
type ConnectivityError struct {
	Name Name
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("throttle %q: %v: %v", e.Name, ErrConnectivity, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

func (e *ConnectivityError) Is(target error) bool {
	return target == ErrConnectivity
}
