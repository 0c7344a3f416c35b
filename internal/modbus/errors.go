package modbus

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Connectivity and protocol errors for the modbus package.
//
// Callers classify failures with errors.Is against these sentinels.
// Connectivity errors (timeout, refused, unreachable, reset) feed the
// error tracker's retry path; ErrProtocol means the peer answered and
// explicitly rejected the request, which must not count as a
// connectivity failure.
var (
	// ErrTimeout is returned when a connect, read or write exceeds its
	// configured deadline.
	ErrTimeout = errors.New("modbus: operation timed out")

	// ErrRefused is returned when the peer actively refuses the
	// connection.
	ErrRefused = errors.New("modbus: connection refused")

	// ErrUnreachable is returned when no route to the peer exists.
	ErrUnreachable = errors.New("modbus: host unreachable")

	// ErrConnReset is returned when the connection drops mid-operation.
	ErrConnReset = errors.New("modbus: connection reset")

	// ErrProtocol is returned when the peer replies with an exception
	// response (illegal address, illegal function, server failure).
	ErrProtocol = errors.New("modbus: request rejected by peer")

	// ErrValidation is returned for bad caller input before any
	// network activity takes place.
	ErrValidation = errors.New("modbus: invalid request")

	// ErrClosed is returned when the pool has been shut down.
	ErrClosed = errors.New("modbus: pool closed")
)

// IsConnectivity reports whether err belongs to the connectivity
// taxonomy (as opposed to a protocol rejection or validation failure).
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRefused) ||
		errors.Is(err, ErrUnreachable) ||
		errors.Is(err, ErrConnReset)
}

// classify maps a raw socket error onto the package taxonomy.
//
// Classification happens at the point of origin using typed errors
// (net.Error, syscall errnos, io sentinels). The message-substring
// fallback exists only for errors from layers we do not control and
// is deliberately last.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %w", ErrRefused, err)
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %w", ErrConnReset, err)
	}

	// Boundary fallback for wrapped errors that lost their type.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case strings.Contains(msg, "refused"):
		return fmt.Errorf("%w: %w", ErrRefused, err)
	case strings.Contains(msg, "unreachable"):
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	case strings.Contains(msg, "reset"), strings.Contains(msg, "broken pipe"):
		return fmt.Errorf("%w: %w", ErrConnReset, err)
	}

	return fmt.Errorf("%w: %w", ErrConnReset, err)
}

// exceptionError renders a modbus exception code as an ErrProtocol.
func exceptionError(function, code byte) error {
	name := "unrecognised exception"
	switch code {
	case exIllegalFunction:
		name = "illegal function"
	case exIllegalDataAddress:
		name = "illegal data address"
	case exIllegalDataValue:
		name = "illegal data value"
	case exServerFailure:
		name = "server device failure"
	}
	return fmt.Errorf("%w: function 0x%02x: %s (code %d)", ErrProtocol, function, name, code)
}
