// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp implements the TCP protocol of the NAT proxy: it accepts
// intercepted connections, resolves their original destination through the
// NAT table and tracks each one as a session keyed by the client's source port.
package tcp
