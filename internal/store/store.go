package store

import (
	"context"
	"errors"

	"coldroute/internal/auditlog"
	"coldroute/internal/model"
)

// Store is the persistence boundary for rules, world state, and the one
// shared mutable resource: the committed route plan per fleet partition.
type Store interface {
	// Rules. Evaluation always runs against a snapshot from ListActiveRules;
	// the engine itself never persists rules.
	SaveRule(ctx context.Context, r model.Rule) error
	ListActiveRules(ctx context.Context) ([]model.Rule, error)
	DeleteRule(ctx context.Context, id string) error

	// Orders
	UpsertOrder(ctx context.Context, o model.Order) error
	GetOrder(ctx context.Context, id string) (model.Order, error)
	ListOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error)
	SetOrderStatus(ctx context.Context, id string, status model.OrderStatus) error

	// Vehicles
	UpsertVehicle(ctx context.Context, v model.Vehicle) error
	GetVehicle(ctx context.Context, id string) (model.Vehicle, error)
	ListVehicles(ctx context.Context) ([]model.Vehicle, error)
	SetVehicleStatus(ctx context.Context, id string, status model.VehicleStatus) error

	// Drivers and clients feed the fact context and the ranker.
	UpsertDriver(ctx context.Context, d model.Driver) error
	GetDriver(ctx context.Context, id string) (model.Driver, error)
	UpsertClient(ctx context.Context, c model.Client) error
	GetClient(ctx context.Context, id string) (model.Client, error)

	// Plans. SwapPlan is the single atomic accept step: it fails with
	// ErrPlanConflict when the stored version moved past expectedVersion,
	// and the caller must re-evaluate rather than retry blindly.
	CurrentPlan(ctx context.Context, partition string) (model.RoutePlan, error)
	SwapPlan(ctx context.Context, partition string, expectedVersion int, plan model.RoutePlan) (model.RoutePlan, error)

	// Audit sink (auditlog.Sink) plus recent-history reads.
	WriteAuditRecord(ctx context.Context, rec auditlog.Record) error
	ListAuditRecords(ctx context.Context, kind string, limit int) ([]auditlog.Record, error)
}

var (
	ErrNotFound = errors.New("not found")
	// ErrPlanConflict is the optimistic-version mismatch on plan swap.
	ErrPlanConflict = errors.New("concurrent plan conflict")
)
