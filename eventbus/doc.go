// Package eventbus provides the synchronous publish/subscribe bus shared by the host
// and its fragments.
//
// One canonical Bus owns every subscription and all statistics. Typed access is a
// compile-time narrowing through Topic values and the generic Emit, On, Once and
// WaitFor functions, and the LegacyAdapter exposes the older two-method surface over the
// same Bus so call sites can migrate one at a time.
//
// Dispatch happens inside Emit: exact-type handlers first, then wildcard handlers
// subscribed to "*", each in registration order. Handler errors and panics are caught at
// the bus boundary and never reach the emitter.
package eventbus
