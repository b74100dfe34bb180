package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"coldroute/internal/auditlog"
	"coldroute/internal/model"
)

// Postgres persists world state as JSONB documents keyed by id. Plans carry
// an explicit version column so SwapPlan can do a compare-and-set in SQL.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate creates the schema if absent. Idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			doc JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			doc JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS orders_status_idx ON orders (status)`,
		`CREATE TABLE IF NOT EXISTS vehicles (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			doc JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS drivers (
			id TEXT PRIMARY KEY,
			doc JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			doc JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS plans (
			fleet TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			doc JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_records (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			doc JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS audit_kind_ts_idx ON audit_records (kind, ts DESC)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) SaveRule(ctx context.Context, r model.Rule) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO rules (id, active, doc) VALUES ($1,$2,$3)
		 ON CONFLICT (id) DO UPDATE SET active=EXCLUDED.active, doc=EXCLUDED.doc`,
		r.ID, r.Active, toJSON(r))
	return err
}

func (p *Postgres) ListActiveRules(ctx context.Context) ([]model.Rule, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM rules WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Rule{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r model.Rule
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteRule(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM rules WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpsertOrder(ctx context.Context, o model.Order) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO orders (id, status, doc) VALUES ($1,$2,$3)
		 ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, doc=EXCLUDED.doc`,
		o.ID, string(o.Status), toJSON(o))
	return err
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (model.Order, error) {
	var o model.Order
	err := p.getDoc(ctx, `SELECT doc FROM orders WHERE id=$1`, id, &o)
	return o, err
}

func (p *Postgres) ListOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	q := `SELECT doc FROM orders ORDER BY id`
	args := []any{}
	if status != "" {
		q = `SELECT doc FROM orders WHERE status=$1 ORDER BY id`
		args = append(args, string(status))
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var o model.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) SetOrderStatus(ctx context.Context, id string, status model.OrderStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE orders SET status=$2, doc=jsonb_set(doc, '{status}', to_jsonb($2::text)) WHERE id=$1`,
		id, string(status))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpsertVehicle(ctx context.Context, v model.Vehicle) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO vehicles (id, status, doc) VALUES ($1,$2,$3)
		 ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, doc=EXCLUDED.doc`,
		v.ID, string(v.Status), toJSON(v))
	return err
}

func (p *Postgres) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	var v model.Vehicle
	err := p.getDoc(ctx, `SELECT doc FROM vehicles WHERE id=$1`, id, &v)
	return v, err
}

func (p *Postgres) ListVehicles(ctx context.Context) ([]model.Vehicle, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM vehicles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Vehicle{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v model.Vehicle
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *Postgres) SetVehicleStatus(ctx context.Context, id string, status model.VehicleStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE vehicles SET status=$2, doc=jsonb_set(doc, '{status}', to_jsonb($2::text)) WHERE id=$1`,
		id, string(status))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpsertDriver(ctx context.Context, d model.Driver) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO drivers (id, doc) VALUES ($1,$2) ON CONFLICT (id) DO UPDATE SET doc=EXCLUDED.doc`,
		d.ID, toJSON(d))
	return err
}

func (p *Postgres) GetDriver(ctx context.Context, id string) (model.Driver, error) {
	var d model.Driver
	err := p.getDoc(ctx, `SELECT doc FROM drivers WHERE id=$1`, id, &d)
	return d, err
}

func (p *Postgres) UpsertClient(ctx context.Context, c model.Client) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO clients (id, doc) VALUES ($1,$2) ON CONFLICT (id) DO UPDATE SET doc=EXCLUDED.doc`,
		c.ID, toJSON(c))
	return err
}

func (p *Postgres) GetClient(ctx context.Context, id string) (model.Client, error) {
	var c model.Client
	err := p.getDoc(ctx, `SELECT doc FROM clients WHERE id=$1`, id, &c)
	return c, err
}

func (p *Postgres) CurrentPlan(ctx context.Context, partition string) (model.RoutePlan, error) {
	var plan model.RoutePlan
	err := p.getDoc(ctx, `SELECT doc FROM plans WHERE fleet=$1`, partition, &plan)
	return plan, err
}

func (p *Postgres) SwapPlan(ctx context.Context, partition string, expectedVersion int, plan model.RoutePlan) (model.RoutePlan, error) {
	plan.Version = expectedVersion + 1
	if expectedVersion == 0 {
		res, err := p.db.ExecContext(ctx,
			`INSERT INTO plans (fleet, version, doc) VALUES ($1,$2,$3) ON CONFLICT (fleet) DO NOTHING`,
			partition, plan.Version, toJSON(plan))
		if err != nil {
			return model.RoutePlan{}, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.RoutePlan{}, ErrPlanConflict
		}
		return plan, nil
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE plans SET version=$3, doc=$4 WHERE fleet=$1 AND version=$2`,
		partition, expectedVersion, plan.Version, toJSON(plan))
	if err != nil {
		return model.RoutePlan{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.RoutePlan{}, ErrPlanConflict
	}
	return plan, nil
}

func (p *Postgres) WriteAuditRecord(ctx context.Context, rec auditlog.Record) error {
	ts := rec.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, kind, ts, doc) VALUES ($1,$2,$3,$4) ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Kind, ts, toJSON(rec))
	return err
}

func (p *Postgres) ListAuditRecords(ctx context.Context, kind string, limit int) ([]auditlog.Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT doc FROM audit_records ORDER BY ts DESC LIMIT $1`
	args := []any{limit}
	if kind != "" {
		q = `SELECT doc FROM audit_records WHERE kind=$1 ORDER BY ts DESC LIMIT $2`
		args = []any{kind, limit}
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []auditlog.Record{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec auditlog.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) getDoc(ctx context.Context, q, id string, dst any) error {
	var raw []byte
	err := p.db.QueryRowContext(ctx, q, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func toJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
