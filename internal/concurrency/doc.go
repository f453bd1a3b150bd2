// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for hioload-nat. Provides periodic tasks that run
// on their own goroutine, independent of any reactor loop, with
// cancellation that guarantees no further firings once Stop returns.
package concurrency
