// Package nat keeps the original destination of intercepted flows, keyed by
// the local source port the interception layer rewrote them to.
//
// The interception layer records a flow with PickSession; the UDP and TCP
// proxies resolve it with Lookup when the flow reaches them.
package nat
