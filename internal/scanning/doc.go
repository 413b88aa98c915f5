// Package scanning implements the nscan TCP connect scanning engine.
//
// An Engine probes one address over a contiguous PortRange. Two strategies
// are available:
//   - SingleThreaded probes every port in ascending order on the calling goroutine.
//   - MultiThreaded splits the range with PlanBatches into at most MaxWorkers
//     contiguous batches and probes each batch on its own goroutine.
//
// Both strategies return the same sorted set of open ports for the same
// responder. Progress is exposed through Engine.PortsScanned and
// Engine.Snapshot, which may be read concurrently with a running scan, and
// Watch polls any ProgressSource into a Reporter until the scan completes.
//
// # Usage
//
//	ports, _ := scanning.ParsePortRange("1-1024")
//	engine := scanning.NewEngine("192.0.2.10", ports, 500*time.Millisecond)
//
//	g, ctx := errgroup.WithContext(ctx)
//	var open []int
//	g.Go(func() (err error) {
//		open, err = engine.Scan(ctx, scanning.MultiThreaded)
//		return err
//	})
//	g.Go(func() error {
//		return scanning.Watch(ctx, engine, reporter, 100*time.Millisecond)
//	})
//	err := g.Wait()
//
// Refused, timed out and unreachable connections classify a port as closed.
// Only failures that prevent probing altogether, such as running out of file
// descriptors, abort a batch; the scan then returns its partial result with
// a BATCH_INCOMPLETE error.
package scanning
