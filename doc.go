// Package loom provides an embeddable integration and synchronization
// engine for enterprise reporting platforms.
//
// Loom is a library, not a service. Import it into your application to
// get a connector registry for external HR and Finance systems,
// retryable execution with an immutable audit log, canonical schema
// mapping with vendor extensions, conflict-aware domain synchronization,
// and a signed webhook subsystem with retries and a dead letter queue.
//
// Quick start:
//
//	l, err := loom.New(
//	    loom.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	l.Start(ctx)
//	defer l.Stop(ctx)
//
//	conn, _ := l.Connectors().Create(ctx, connector.Input{
//	    Name:    "workday",
//	    Type:    connector.TypeHR,
//	    BaseURL: "https://hr.example.com",
//	})
//	l.Connectors().Enable(ctx, conn.ID)
//
//	result, _ := l.SyncHR(ctx, conn.ID)
//
//	l.Dispatch(ctx, "hr.sync_completed", map[string]any{
//	    "job_id": result.JobID.String(),
//	})
package loom
