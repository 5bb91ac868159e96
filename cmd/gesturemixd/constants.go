package main

import "time"

// Daemon defaults
const (
	defaultUpdateHz      = 60  // Mixer pump frequency (Hz)
	defaultReadTimeoutMS = 500 // Timeout for reading mixer websocket responses (ms)

	// mixerReconnectAttempts bounds one reconnect burst before the pump gives up
	// on the current batch and retries on its next tick.
	mixerReconnectAttempts = 10
	mixerReconnectDelay    = 500 * time.Millisecond

	// ipcMaxLineBytes bounds one IPC request line (a gesture frame with many results).
	ipcMaxLineBytes = 256 * 1024

	httpShutdownTimeout = 3 * time.Second
)
