// Package pipeline models the speech-processing chain: a Pipeline owns a
// fixed, template-derived list of Stages, each of which walks the state
// machine PENDING -> (UPLOADING) -> PROCESSING -> FINISHED with ERROR, READY
// and SKIPPED side branches.
//
// Nothing in this package is safe for concurrent mutation. Callers serialize
// every call through a single owner (the scheduler loop); provider calls are
// handed to a Dispatcher and their outcomes are delivered back through it.
package pipeline
