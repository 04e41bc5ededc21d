package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ossettyres/tyre-api/internal/cache"
	"github.com/ossettyres/tyre-api/internal/ratelimit"
	"github.com/ossettyres/tyre-api/internal/server"
	"github.com/ossettyres/tyre-api/internal/service"
	"github.com/ossettyres/tyre-api/internal/upstream"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newLookupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <registration>",
		Short: "Look up a vehicle and its OE tyre sizes",
		Example: `  tyre-api lookup AB12CDE
  tyre-api lookup "ab12 cde" --config prod.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			svc := service.NewVehicleService(
				ratelimit.NewCooldownTracker(ratelimit.CooldownConfig{}),
				upstream.NewDVLA(server.UpstreamConfig(cfg.DVLA), nil),
				upstream.NewTyres(server.UpstreamConfig(cfg.Tyres), nil),
				cache.Noop{},
				nil,
			)

			res, err := svc.Lookup(cmd.Context(), "cli", args[0])
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(res.Body, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if res.Status != http.StatusOK {
				return errors.Errorf("lookup returned status %d", res.Status)
			}
			return nil
		},
	}
}
