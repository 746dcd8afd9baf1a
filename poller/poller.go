// Package poller implements the native readiness backends: epoll on linux,
// kqueue on the BSDs and darwin, event ports on solaris and illumos and an
// I/O completion port on windows.
//
// Every backend exposes the same Poller type. Registrations are either
// persistent (reported for as long as the condition holds) or oneshot
// (disarmed after the first delivery until Modify re-arms them), whatever
// the native default is.
package poller

// DefaultBatch is the initial number of native events collected by one
// wait. The buffer doubles whenever a wait fills it.
const DefaultBatch = 1024
