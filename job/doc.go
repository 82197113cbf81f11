// Package job defines the unit-of-work model for conveyor: the Job
// record and its status state machine, priorities, retry history, the
// handler registry, and the persistence contract consumed by workers.
//
// The payload is an opaque serialized blob at this layer. It is
// interpreted only at the handler-dispatch boundary, where the typed
// Definition registered for the job's type unmarshals it.
package job
