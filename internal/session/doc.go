// Package session
// Author: momentics <momentics@gmail.com>
//
// Session tracking layer for NAT-style flow tables.
// Each Session maps a local source port to the remote endpoint of one
// client flow. The Store bounds how many sessions may be live and evicts
// the least recently used one under pressure; the Sweeper reclaims sessions
// that went idle. Every removal path funnels through one release hook,
// invoked exactly once per session.

package session
