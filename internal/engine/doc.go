// Package engine is the turn resolution pipeline.
//
// Each active session gets one serial worker feeding from a bounded queue,
// so turns within a session resolve in submission order while different
// sessions run in parallel. A turn moves through validation, narrative
// generation, state application, durable commit, and conclusion
// evaluation; every exit from the pipeline produces a TurnResult the
// caller can broadcast.
package engine
