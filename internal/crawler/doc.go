// Package crawler defines the types, interfaces and errors shared by the
// fetch, parse, normalize and reconcile stages of the MOFCOM pipeline.
package crawler
