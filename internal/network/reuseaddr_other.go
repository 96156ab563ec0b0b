//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns a plain net.ListenConfig on platforms
// without a tuned implementation.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
