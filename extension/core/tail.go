// tail.go implements the "collab tail" command: follow the events of every
// server sharing a Redis relay.
//
// Design: Tail reads the relay rather than a local event store, so it sees
// events from servers on other hosts and needs no database. It is a
// NoStoreCommand; redis.addr must be configured.

package core

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jpl-au/collab/cmd"
	"github.com/jpl-au/collab/internal/broadcast"
	"github.com/jpl-au/collab/internal/format"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newTailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tail [stream-pattern]",
		Short: "Follow relayed events",
		Long: `Print events published to the Redis relay as they arrive.

  collab tail                # every stream
  collab tail 'doc:*'        # documents and notebooks only
  collab tail awareness      # presence, cursors and activity

Patterns use Redis glob syntax. Stops on Ctrl-C.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runTail,
	}
}

func runTail(c *cobra.Command, args []string) error {
	cfg, err := cmd.LoadConfig()
	if err != nil {
		return cmd.PrintJSONError(err)
	}
	if cfg.Redis.Addr == "" {
		return cmd.PrintJSONError(broadcast.ErrNotConfigured)
	}
	pattern := "*"
	if len(args) == 1 {
		pattern = args[0]
	}

	ctx := c.Context()
	relay := broadcast.NewRelay(&redis.Options{Addr: cfg.Redis.Addr}, cfg.RedisPrefix(), 0)
	defer relay.Close()

	sub, err := relay.Subscribe(ctx, pattern)
	if err != nil {
		return cmd.PrintJSONError(fmt.Errorf("tail: %w", err))
	}
	defer sub.Close()

	enc := json.NewEncoder(cmd.Out())
	evs, errs := sub.Events, sub.Errors
	for evs != nil {
		select {
		case e, ok := <-evs:
			if !ok {
				evs = nil
				continue
			}
			if cmd.JSON() {
				if err := enc.Encode(e); err != nil {
					return err
				}
				continue
			}
			format.Event(cmd.Out(), e)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("tail", "error", err)
		}
	}
	return nil
}
