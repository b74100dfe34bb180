package store

import (
	"context"
	"sort"
	"sync"

	"coldroute/internal/auditlog"
	"coldroute/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set, and in
// tests.
type Memory struct {
	mu       sync.Mutex
	rules    map[string]model.Rule
	orders   map[string]model.Order
	vehicles map[string]model.Vehicle
	drivers  map[string]model.Driver
	clients  map[string]model.Client
	plans    map[string]model.RoutePlan // partition -> committed plan
	audit    []auditlog.Record
}

func NewMemory() *Memory {
	return &Memory{
		rules:    map[string]model.Rule{},
		orders:   map[string]model.Order{},
		vehicles: map[string]model.Vehicle{},
		drivers:  map[string]model.Driver{},
		clients:  map[string]model.Client{},
		plans:    map[string]model.RoutePlan{},
	}
}

func (m *Memory) SaveRule(ctx context.Context, r model.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = r
	return nil
}

func (m *Memory) ListActiveRules(ctx context.Context) ([]model.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Rule{}
	for _, r := range m.rules {
		if r.Active {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteRule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *Memory) UpsertOrder(ctx context.Context, o model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *Memory) GetOrder(ctx context.Context, id string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func (m *Memory) ListOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Order{}
	for _, o := range m.orders {
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetOrderStatus(ctx context.Context, id string, status model.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	m.orders[id] = o
	return nil
}

func (m *Memory) UpsertVehicle(ctx context.Context, v model.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[v.ID] = v
	return nil
}

func (m *Memory) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return model.Vehicle{}, ErrNotFound
	}
	return v, nil
}

func (m *Memory) ListVehicles(ctx context.Context) ([]model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Vehicle{}
	for _, v := range m.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetVehicleStatus(ctx context.Context, id string, status model.VehicleStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return ErrNotFound
	}
	v.Status = status
	m.vehicles[id] = v
	return nil
}

func (m *Memory) UpsertDriver(ctx context.Context, d model.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
	return nil
}

func (m *Memory) GetDriver(ctx context.Context, id string) (model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return model.Driver{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) UpsertClient(ctx context.Context, c model.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
	return nil
}

func (m *Memory) GetClient(ctx context.Context, id string) (model.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return model.Client{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) CurrentPlan(ctx context.Context, partition string) (model.RoutePlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[partition]
	if !ok {
		return model.RoutePlan{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) SwapPlan(ctx context.Context, partition string, expectedVersion int, plan model.RoutePlan) (model.RoutePlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.plans[partition]
	if exists && cur.Version != expectedVersion {
		return model.RoutePlan{}, ErrPlanConflict
	}
	if !exists && expectedVersion != 0 {
		return model.RoutePlan{}, ErrPlanConflict
	}
	plan.Version = expectedVersion + 1
	m.plans[partition] = plan
	return plan, nil
}

func (m *Memory) WriteAuditRecord(ctx context.Context, rec auditlog.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, rec)
	return nil
}

func (m *Memory) ListAuditRecords(ctx context.Context, kind string, limit int) ([]auditlog.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []auditlog.Record{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		if kind == "" || m.audit[i].Kind == kind {
			out = append(out, m.audit[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
