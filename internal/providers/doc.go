// Package providers talks to the speech web services that run the upload,
// recognition and alignment stages, and implements the pipeline runners for
// them.
//
// Every call returns a pipeline.Outcome; transport and parse failures are
// reported through Outcome.Err and Outcome.Protocol and never panic or block
// past the configured request timeout.
package providers
