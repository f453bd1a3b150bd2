package logger

// Standard field keys for structured logging.
const (
	KeyProxy      = "proxy"       // Proxy name: udp, tcp
	KeyProxyID    = "proxy_id"    // Proxy instance identifier
	KeySourcePort = "source_port" // Local NAT port identifying a flow
	KeyRemote     = "remote"      // Remote endpoint (addr:port)
	KeyPort       = "port"        // Locally bound server port
	KeyReason     = "reason"      // Removal reason: evicted, idle, finished, ...
	KeyCount      = "count"       // Number of affected entries
	KeyError      = "error"       // Error value
	KeyState      = "state"       // Lifecycle state
)

