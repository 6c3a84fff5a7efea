// Package observe provides the access/mutation tracking primitive used by
// bound fields, and the executors that confine notification delivery.
//
// A Registrar knows nothing about storage. Readers call Access, writers wrap
// their mutation in AnnounceMutation, and observers either Subscribe to one
// field or Track whatever a function happens to read.
//
// Executors decide where notifications run. Inline delivers on the calling
// goroutine. Loop is a single-goroutine event loop: everything dispatched to
// it runs serially, in FIFO order, on the goroutine that called Run.
package observe
