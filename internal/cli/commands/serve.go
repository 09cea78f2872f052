package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mte/internal/protocol"
	"mte/internal/server"
)

const shutdownGrace = 5 * time.Second

// ServeCommand handles the serve command
type ServeCommand struct {
	*env
}

// Execute runs the command
func (sc *ServeCommand) Execute(cmd *cobra.Command, args []string) error {
	if listen := sc.config.Flags.Listen; listen != "" {
		return sc.listen(cmd.Context(), listen)
	}
	return sc.serve(cmd.Context(), protocol.NewHeaderStreamFrom(os.Stdin, os.Stdout, os.Stdin))
}

// serve answers one client until the connection closes
func (sc *ServeCommand) serve(ctx context.Context, stream protocol.MessageStream) error {
	conn := protocol.NewConn(stream, sc.log)
	return server.New(conn, sc.log, server.WithVersion(sc.version)).Run(ctx)
}

// listen serves every websocket client with its own server until ctx is done
func (sc *ServeCommand) listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log := sc.log.With().Str("addr", ln.Addr().String()).Logger()

	srv := &http.Server{
		Handler: protocol.WebSocketHandler(func(stream protocol.MessageStream) {
			log.Info().Msg("client connected")
			if err := sc.serve(ctx, stream); err != nil {
				log.Warn().Err(err).Msg("client connection ended")
			}
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Msg("listening for websocket clients")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
