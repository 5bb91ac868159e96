//go:build !linux

package main

import "net"

func peerAttrs(conn net.Conn) []any {
	return []any{"remote_addr", conn.RemoteAddr().String()}
}
