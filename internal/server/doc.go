// Package server wires the agent's components into a running daemon.
//
// # Overview
//
// Components opens the option store and builds every domain component from
// a config.Config. CLI subcommands use it directly; Server adds listeners on
// top:
//
//   - HTTP front: /health, the control API, and a reverse proxy to the host
//     site, all behind the maintenance gate
//   - gRPC health service reporting NOT_SERVING for mrwp.agent.Site while
//     maintenance is on (optional, server.grpc_addr)
//   - Tailscale listener serving the same HTTP handler on the tailnet
//     (optional, tailscale.enabled)
//
// # Lifecycle
//
//	srv, err := server.New(cfg, comps, logger)
//	if err != nil {
//	    return err
//	}
//	return srv.Run(ctx) // blocks until ctx is cancelled
package server
