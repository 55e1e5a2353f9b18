// Command webserv is the origin server's entry point: load a config
// file, bind its listeners, and run the event loop until a termination
// signal arrives. Grounded on the teacher's server.Test (server.go) for
// the overall "build the pieces, then hand them to the engine" shape,
// generalized from its single hardcoded :8080 listener to the bound
// set spec §3 and §4.5 describe, and on SPEC_FULL.md §12 for signal
// semantics original_source's shutdown handling was distilled from.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kfcemployee/webserv/internal/config"
	"github.com/kfcemployee/webserv/internal/eventloop"
	"github.com/kfcemployee/webserv/internal/netutil"
	"github.com/kfcemployee/webserv/internal/response"
	"github.com/kfcemployee/webserv/internal/wlog"
	"github.com/rs/zerolog"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := wlog.Logger

	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config.json>\n", os.Args[0])
		return 1
	}

	servers, err := config.LoadJSON(os.Args[1])
	if err != nil {
		log.Error().Err(err).Str("config", os.Args[1]).Msg("webserv: failed to load config")
		return 1
	}

	listeners := netutil.NewListenerSet()
	for i := range servers {
		if err := listeners.Bind(&servers[i]); err != nil {
			log.Error().Err(err).Uint16("port", servers[i].ListenPort).Msg("webserv: failed to bind listener")
			return 1
		}
		log.Info().Uint16("port", servers[i].ListenPort).Str("server_name", servers[i].ServerName).Msg("webserv: bound")
	}

	loop, err := eventloop.New(listeners, response.OSFileSystem{}, log)
	if err != nil {
		log.Error().Err(err).Msg("webserv: failed to create event loop")
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go watchSignals(sigCh, loop, log)

	log.Info().Int("servers", len(servers)).Int("listeners", len(listeners.Listeners())).Msg("webserv: starting")

	if err := loop.Run(); err != nil {
		log.Error().Err(err).Msg("webserv: event loop exited with error")
		return 1
	}

	log.Info().Msg("webserv: stopped")
	return 0
}

// watchSignals implements SPEC_FULL.md §12's shutdown policy: SIGINT
// and SIGTERM stop immediately; SIGHUP drains in-flight responses
// first. A second signal of either kind always forces an immediate
// stop, so an operator is never stuck waiting on a drain that hangs.
func watchSignals(sigCh <-chan os.Signal, loop *eventloop.Loop, log zerolog.Logger) {
	drainRequested := false
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			if drainRequested {
				log.Info().Msg("webserv: second SIGHUP received, shutting down")
				loop.RequestShutdown()
				return
			}
			drainRequested = true
			log.Info().Msg("webserv: SIGHUP received, draining in-flight connections")
			loop.RequestDrain()
		default:
			log.Info().Str("signal", sig.String()).Msg("webserv: shutting down")
			loop.RequestShutdown()
			return
		}
	}
}
