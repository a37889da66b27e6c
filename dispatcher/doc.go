// Package dispatcher schedules outbound federation requests.
//
// Every outbound request (inbox deliveries, actor and object fetches,
// instance probes, media downloads) goes through a Dispatcher. The dispatcher
// keeps one state record per destination origin and uses it to:
//
//   - hold requests while the origin is backed off after failures or a 429
//   - start ready requests in priority order, FIFO within a class
//   - keep Spaced requests at least Config.SpacedGap apart
//   - retry transport errors and 5xx responses with exponential backoff
//     until the retry budget is spent, then resolve with the last response
//
// Request bodies are read once when a request is submitted, so every attempt
// sends identical bytes.
//
// Basic usage:
//
//	d := dispatcher.New(client,
//	    dispatcher.WithTrustStore(store),
//	    dispatcher.WithWatcher(reporter),
//	    dispatcher.WithLogger(logger),
//	)
//
//	// Fire and forget; failures reach the watcher.
//	d.Dispatch(ctx, req, dispatcher.RequestOptions{Priority: dispatcher.Soon})
//
//	// Wait for the outcome, turning failures into a typed error.
//	resp, err := d.DispatchAndWait(ctx, req, dispatcher.RequestOptions{
//	    Priority:  dispatcher.Immediate,
//	    ErrorKind: "actor_fetch_failed",
//	})
//
//	// Deliver a backlog one request at a time, in order.
//	batch := d.DispatchInOrder(ctx, reqs, dispatcher.RequestOptions{Priority: dispatcher.Spaced})
//	err = batch.Wait(ctx)
package dispatcher
