package core

import "errors"

var (
	// ErrTransportLost is returned when a read from the transport hits
	// EOF or fails. Write failures and an exhausted timeout budget are
	// reported with their own errors (ErrShortWrite, ErrWriteBlocked,
	// ErrTimeoutBudgetExhausted).
	ErrTransportLost = errors.New("transport lost")

	// ErrTimeoutBudgetExhausted is returned by the command queue once
	// five consecutive commands have timed out with no reply.
	ErrTimeoutBudgetExhausted = errors.New("last 5 commands got timeout, transport considered dead")

	// ErrBrokerLost is returned when the MQTT client reports its
	// connection as lost. The process exits immediately without draining
	// retained state, since there is no broker left to receive it.
	ErrBrokerLost = errors.New("mqtt broker connection lost")

	// ErrWouldBlock is wrapped by transport writes that would block
	// (EAGAIN). The command queue retries such writes after one second.
	ErrWouldBlock = errors.New("transport write would block")

	// ErrWriteBlocked is returned when ten consecutive transport writes
	// would block; the transport is then considered dead.
	ErrWriteBlocked = errors.New("transport write blocked too many times")

	// ErrShortWrite is returned when a transport write accepts fewer
	// bytes than were handed to it. Short writes are fatal.
	ErrShortWrite = errors.New("short write to transport")

	// ErrBufferFull is returned by the line parser when its sliding
	// buffer fills without ever finding a record terminator.
	ErrBufferFull = errors.New("line parser buffer full without a newline")

	// ErrClosed is returned by Close on a transport that is already
	// closed.
	ErrClosed = errors.New("bridge core closed")
)
