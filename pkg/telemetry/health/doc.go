// Package health serves the gateway's liveness, readiness and version
// endpoints.
//
//   - /health answers 200 as long as the process serves HTTP.
//   - /ready runs every registered check concurrently and answers 503 if any
//     fails or times out.
//   - /version reports build information.
//
// Components register readiness checks by name:
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("settlement", func(ctx context.Context) error {
//	    if !dispatcher.Running() {
//	        return errors.New("dispatcher stopped")
//	    }
//	    return nil
//	})
//	checker.Register(mux, version.Info())
package health
