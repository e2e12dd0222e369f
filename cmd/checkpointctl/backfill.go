package main

import (
	"context"

	"github.com/checkpointly/scanvalidator/pkg/hotcache"
	"github.com/checkpointly/scanvalidator/pkg/scanstore"
)

// scanCacheBackfiller adapts *scanstore.Store's durable row shape to
// hotcache.Backfiller, so a C5 miss can fall through to C4 without either
// package importing the other.
type scanCacheBackfiller struct {
	store *scanstore.Store
}

func (b scanCacheBackfiller) GetTicketCache(ctx context.Context, ticketID string) (*hotcache.Entry, error) {
	row, err := b.store.GetTicketCache(ctx, ticketID)
	if err == scanstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hotcache.Entry{
		TicketID:      row.TicketID,
		ScanCount:     row.ScanCount,
		ScanLocations: row.Locations,
		LastScan:      row.LastScannedAt,
		IsBlocked:     row.Blocked,
		BlockReason:   row.BlockReason,
	}, nil
}

var _ hotcache.Backfiller = scanCacheBackfiller{}
