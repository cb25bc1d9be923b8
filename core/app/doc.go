// Package app wires the consistency engine and its multi projections into
// one process.
//
// The App type owns a [dcb.Host] with its [dcb.Executor], and a
// [projection.Feeder] that keeps one [projection.Actor] per registered
// projector fed from the store and the live event feed.
//
// # Basic Usage
//
//	a, err := app.Run(app.Config{
//	    Store:         store,
//	    Types:         types,
//	    TagProjectors: []dcb.TagProjector{courseProjector},
//	    Projectors:    []projection.Projector{catalogProjector},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := a.Executor().Execute(ctx, enrollStudent(courseID, studentID))
//
//	catalog, _ := a.Projection("catalog")
//	state, err := catalog.State(ctx)
//
//	// Graceful shutdown writes a final snapshot of every projection
//	a.Shutdown(ctx)
//
// # Live Events
//
// Without a Publisher and Subscriber the App uses an in-process
// [dcb.InMemoryFeed]. Across processes, configure both with the same feed,
// for example the NATS or Kafka adapters.
//
// # Snapshots
//
// With a SnapshotInterval, the safe state of every projection is written to
// the SnapshotStore periodically and on shutdown, and restored from it on
// start. Only events after the restored position are folded again.
package app
