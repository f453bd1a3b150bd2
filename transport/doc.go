// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package transport holds helpers shared by the protocol proxies in its
// subpackages: transport/udp and transport/tcp.
package transport
