package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"volume_miner/internal/infra"
	"volume_miner/internal/infra/storage"
)

func openStore(configPath string) (*storage.Storage, error) {
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath(configPath))
	if err != nil {
		return nil, err
	}
	return storage.NewStorage(cfg.Storage.IncidentsDB)
}

// ListIncidents prints unresolved incidents as a table.
func ListIncidents(ctx context.Context, configPath string, w io.Writer) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	open, err := store.ListUnresolved(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		fmt.Fprintln(w, "no open incidents")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tMARKET\tKIND\tBUY ORDERS\tSELL PRICE\tQUANTITY")
	for _, inc := range open {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			inc.ID, inc.CreatedAt.Format("2006-01-02 15:04:05"), inc.MarketID, inc.Kind,
			inc.BuyOrderIDs, inc.SellPrice, inc.Quantity)
	}
	return tw.Flush()
}

// ResolveIncident marks one incident as reconciled by the operator.
func ResolveIncident(ctx context.Context, configPath, id string) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Resolve(ctx, id)
}
