// Package device implements the device-side endpoint of the ardlink
// protocol.
//
// A device Session is a small two-state machine pumped cooperatively: the
// owning loop calls Update once per iteration, which processes at most one
// incoming line and never blocks beyond a short poll timeout. The session
// answers the host's identity challenge, transitions to Authenticated on
// AUTH_SUCCESS (signalling the handshake through an injected Signaler), and
// forwards any other line to the injected CommandHandler once trust is
// established. Outgoing data is silently suppressed until then, so nothing
// leaks before authentication.
package device
