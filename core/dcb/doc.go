// Package dcb implements dynamic consistency boundaries over a single
// ordered event log.
//
// Events carry tags ("Group:Content"). A command reads the states of the tags
// it cares about, appends events, and the [Executor] writes them only if none
// of the written consistency tags moved since they were read. Nothing else is
// locked: commands over disjoint tags never conflict.
//
// # Actors
//
// [TagConsistentActor] tracks the latest position of one tag and hands out
// short lived write reservations. [TagStateActor] folds the events of one tag
// with one [TagProjector] and caches the result. [Host] keeps exactly one of
// each per key in the process.
//
//	host := dcb.NewHost(store, dcb.NewTagProjectors(courseProjector))
//	exec := dcb.NewExecutor(host, dcb.WithPublisher(feed))
//
//	res, err := exec.Execute(ctx, func(ctx context.Context, c *dcb.CommandContext) error {
//	    course, _, err := dcb.CommandStateAs[Course](ctx, c, courseID)
//	    if err != nil {
//	        return err
//	    }
//	    if course.Full() {
//	        return ErrCourseFull
//	    }
//	    c.Append(StudentEnrolled{Student: "s1"}, courseTag, studentTag)
//	    return nil
//	})
//	if errors.Is(err, dcb.ErrConflict) {
//	    // someone else wrote the course first; retry
//	}
//
// # Errors
//
// Every error the package returns is classified by [Kind]; match it with
// errors.Is against the sentinels or with [KindOf].
package dcb
