// Package netutil wraps the raw socket calls shared by the UDP and TCP
// proxies. It is only populated on Linux.
package netutil
