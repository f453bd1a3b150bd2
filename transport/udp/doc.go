// Package udp implements the UDP protocol of the NAT proxy. Each source
// port seen on the datagram socket becomes a session owning a connected
// upstream socket to the flow's original destination.
package udp
