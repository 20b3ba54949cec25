// serve.go implements the "collab serve" command.
//
// Design: Serve is a NoStoreCommand. It opens its own service and keeps it
// for the life of the server, closing it only after the transport has
// stopped so no tool call runs against a closed store.

package core

import (
	"fmt"
	"log/slog"

	"github.com/jpl-au/collab/cmd"
	"github.com/jpl-au/collab/extension"
	"github.com/jpl-au/collab/internal/config"
	"github.com/jpl-au/collab/internal/log"
	"github.com/jpl-au/collab/internal/mcp"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Serve the directory's documents and notebooks over MCP.

  collab serve                                # stdio, as the configured user
  collab serve --transport http --addr :8080  # /mcp and the /events websocket

Over stdio every call acts as --user (or user.name). Over HTTP the
principal comes from the X-Collab-User header.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	c.Flags().String(extension.FlagTransport, "", "Transport: stdio or http (default from server.transport)")
	c.Flags().String(extension.FlagAddr, "", "Listen address for http (default from server.addr)")
	return c
}

func runServe(c *cobra.Command, _ []string) error {
	cfg, err := cmd.LoadConfig()
	if err != nil {
		return cmd.PrintJSONError(err)
	}
	transport, _ := c.Flags().GetString(extension.FlagTransport)
	if transport == "" {
		transport = cfg.Transport()
	}
	if transport != config.TransportStdio && transport != config.TransportHTTP {
		return cmd.PrintJSONError(fmt.Errorf("unknown transport %q (want %s or %s)", transport, config.TransportStdio, config.TransportHTTP))
	}
	addr, _ := c.Flags().GetString(extension.FlagAddr)
	if addr == "" {
		addr = cfg.Addr()
	}
	user := cmd.User(cfg)
	cfg.User.Name = user

	ctx := c.Context()
	svc, err := cmd.OpenService(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Warn("close service", "error", err)
		}
	}()

	log.Event("core:serve", "start").Author(user).Path(cmd.Root()).
		Detail("transport", transport).Detail("addr", addr).Write(nil)
	err = mcp.Serve(ctx, svc, transport, addr)
	log.Event("core:serve", "stop").Author(user).Path(cmd.Root()).Write(err)
	return err
}
