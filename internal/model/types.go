package model

import "time"

// Core domain types for the dispatch decision engine.

// TempZone is a temperature compartment class.
type TempZone string

const (
	ZoneFrozen  TempZone = "frozen"
	ZoneChilled TempZone = "chilled"
	ZoneAmbient TempZone = "ambient"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderAssigned  OrderStatus = "assigned"
	OrderInTransit OrderStatus = "in_transit"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Order is immutable input per optimization pass; only status transitions
// are written back by callers.
type Order struct {
	ID             string      `json:"id"`
	ClientID       string      `json:"clientId,omitempty"`
	Zone           TempZone    `json:"zone"`
	Pallets        int         `json:"pallets,omitempty"`
	WeightKg       float64     `json:"weightKg,omitempty"`
	VolumeM3       float64     `json:"volumeM3,omitempty"`
	Pickup         GeoPoint    `json:"pickup"`
	Delivery       GeoPoint    `json:"delivery"`
	PickupWindow   *TimeWindow `json:"pickupWindow,omitempty"`
	DeliveryWindow *TimeWindow `json:"deliveryWindow,omitempty"`
	ServiceSec     int         `json:"serviceTimeSec,omitempty"`
	Priority       int         `json:"priority,omitempty"`
	Urgent         bool        `json:"urgent,omitempty"`
	Status         OrderStatus `json:"status"`
}

type VehicleStatus string

const (
	VehicleAvailable   VehicleStatus = "available"
	VehicleAssigned    VehicleStatus = "assigned"
	VehicleInUse       VehicleStatus = "in_use"
	VehicleMaintenance VehicleStatus = "maintenance"
	VehicleBreakdown   VehicleStatus = "breakdown"
)

type Vehicle struct {
	ID            string        `json:"id"`
	DriverID      string        `json:"driverId,omitempty"`
	Zones         []TempZone    `json:"zones"`
	CapPallets    int           `json:"capPallets,omitempty"`
	CapWeightKg   float64       `json:"capWeightKg,omitempty"`
	CapVolumeM3   float64       `json:"capVolumeM3,omitempty"`
	Location      GeoPoint      `json:"location"`
	Garage        GeoPoint      `json:"garage"`
	Status        VehicleStatus `json:"status"`
	RotationCount int           `json:"rotationCount,omitempty"`
	VoltageOK     bool          `json:"voltageOk"`
}

// SupportsZone reports whether the vehicle can carry the given temperature zone.
func (v Vehicle) SupportsZone(z TempZone) bool {
	for _, have := range v.Zones {
		if have == z {
			return true
		}
	}
	return false
}

// Dispatchable reports whether the vehicle may receive new work at all.
// Breakdown/maintenance vehicles are excluded before any scoring happens.
func (v Vehicle) Dispatchable() bool {
	return v.Status == VehicleAvailable || v.Status == VehicleAssigned
}

type Driver struct {
	ID     string   `json:"id"`
	Name   string   `json:"name,omitempty"`
	Skills []string `json:"skills,omitempty"`
}

func (d Driver) HasSkill(skill string) bool {
	for _, s := range d.Skills {
		if s == skill {
			return true
		}
	}
	return false
}

type Client struct {
	ID               string             `json:"id"`
	Name             string             `json:"name,omitempty"`
	RequiresForklift bool               `json:"requiresForklift,omitempty"`
	PreferredDrivers []string           `json:"preferredDrivers,omitempty"`
	Affinity         map[string]float64 `json:"affinity,omitempty"` // vehicleID -> [0,1]
}

type StopKind string

const (
	StopPickup   StopKind = "pickup"
	StopDelivery StopKind = "delivery"
)

type StopStatus string

const (
	StopPending   StopStatus = "pending"
	StopFrozen    StopStatus = "frozen" // in-transit or completed; never re-planned
	StopCompleted StopStatus = "completed"
)

// Stop is one visit on a vehicle route, always tied to an order.
type Stop struct {
	ID         string      `json:"id"`
	OrderID    string      `json:"orderId"`
	Kind       StopKind    `json:"kind"`
	Location   GeoPoint    `json:"location"`
	Window     *TimeWindow `json:"window,omitempty"`
	ServiceSec int         `json:"serviceTimeSec,omitempty"`
	ETA        time.Time   `json:"eta,omitempty"`
	LateMin    float64     `json:"lateMin,omitempty"`
	Status     StopStatus  `json:"status"`
}

// VehicleRoute is the ordered stop sequence for one vehicle.
type VehicleRoute struct {
	VehicleID  string  `json:"vehicleId"`
	Stops      []Stop  `json:"stops"`
	DistanceKm float64 `json:"distanceKm"`
	DriveMin   float64 `json:"driveMin"`
	WaitMin    float64 `json:"waitMin"`
	LateMin    float64 `json:"lateMin"`
}

// OrderIDs returns the distinct order ids visited by the route, in stop order.
func (r VehicleRoute) OrderIDs() []string {
	seen := map[string]bool{}
	out := []string{}
	for _, s := range r.Stops {
		if !seen[s.OrderID] {
			seen[s.OrderID] = true
			out = append(out, s.OrderID)
		}
	}
	return out
}

// RoutePlan is the shared mutable resource. Mutation goes through the
// re-dispatch coordinator's accept step only; Version guards the swap.
type RoutePlan struct {
	ID        string         `json:"id"`
	Version   int            `json:"version"`
	Routes    []VehicleRoute `json:"routes"`
	Cost      float64        `json:"cost"`
	CreatedAt time.Time      `json:"createdAt"`
}

// RouteFor returns the route for a vehicle, or nil.
func (p *RoutePlan) RouteFor(vehicleID string) *VehicleRoute {
	for i := range p.Routes {
		if p.Routes[i].VehicleID == vehicleID {
			return &p.Routes[i]
		}
	}
	return nil
}

// Score holds the five normalized sub-scores for one (order, vehicle) pair.
// Ephemeral: recomputed per decision, logged but never persisted as state.
type Score struct {
	OrderID    string  `json:"orderId"`
	VehicleID  string  `json:"vehicleId"`
	Distance   float64 `json:"distance"`
	Rotation   float64 `json:"rotation"`
	TimeWindow float64 `json:"timeWindow"`
	Preference float64 `json:"preference"`
	Voltage    float64 `json:"voltage"`
	Total      float64 `json:"total"`
}

// RuleType partitions rules by the decision they influence.
type RuleType string

const (
	RuleAssignment   RuleType = "assignment"
	RuleConstraint   RuleType = "constraint"
	RuleOptimization RuleType = "optimization"
)

// Rule is an operator-authored record. Condition and Actions are raw data;
// the rules package compiles them before evaluation.
type Rule struct {
	ID            string           `json:"id"`
	Name          string           `json:"name,omitempty"`
	Type          RuleType         `json:"type"`
	Priority      int              `json:"priority"`
	Active        bool             `json:"active"`
	ApplyStart    string           `json:"applyStart,omitempty"` // "HH:MM", inclusive
	ApplyEnd      string           `json:"applyEnd,omitempty"`   // "HH:MM", inclusive
	ApplyDays     []time.Weekday   `json:"applyDays,omitempty"`  // empty = every day
	Condition     map[string]any   `json:"condition"`
	Actions       []map[string]any `json:"actions"`
	SchemaVersion int              `json:"schemaVersion,omitempty"`
}

// EventType enumerates re-dispatch triggers from the event feed.
type EventType string

const (
	EventBreakdown       EventType = "breakdown"
	EventDelay           EventType = "delay"
	EventUrgentOrder     EventType = "urgent_order"
	EventTempViolation   EventType = "temperature_violation"
	EventCostOpportunity EventType = "cost_opportunity"
)

// DispatchEvent is one entry on the re-dispatch event feed.
type DispatchEvent struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	VehicleID      string    `json:"vehicleId,omitempty"`
	OrderID        string    `json:"orderId,omitempty"`
	DelayMinutes   int       `json:"delayMinutes,omitempty"`
	SavingsPercent float64   `json:"savingsPercent,omitempty"`
	TS             time.Time `json:"ts"`
}
