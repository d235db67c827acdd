// Package shutdown turns process termination signals into context
// cancellation.
//
// The first SIGINT or SIGTERM cancels the context returned by Notify so
// that running commands can stop and close the store. If the process is
// still alive after the grace period, or a second signal arrives, the
// registered hooks run and the process exits.
//
// Usage:
//
//	h := shutdown.NewHandler(10 * time.Second)
//	ctx, stop := h.Notify(context.Background())
//	defer stop()
package shutdown
