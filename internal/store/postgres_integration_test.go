//go:build postgres_integration

package store

import (
	"context"
	"os"
	"testing"

	"coldroute/internal/model"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	if err := p.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := p.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	if err := p.UpsertOrder(ctx, model.Order{ID: "it-o1", Zone: model.ZoneChilled, Status: model.OrderPending}); err != nil {
		t.Fatalf("UpsertOrder: %v", err)
	}
	if _, err := p.ListOrders(ctx, model.OrderPending); err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
}
