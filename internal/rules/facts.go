package rules

import (
	"coldroute/internal/model"
)

// Facts is the nested fact context a rule is evaluated against. Keys are
// snake_case; producers other than BuildFacts only need to keep field names
// stable, not their source.
type Facts map[string]any

// Resolve walks a dot-separated path through nested maps. The second return
// is false when any segment is missing ("absent" sentinel).
func (f Facts) Resolve(path []string) (any, bool) {
	var cur any = map[string]any(f)
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Merge overlays other onto f at the top level and returns f.
func (f Facts) Merge(other Facts) Facts {
	for k, v := range other {
		f[k] = v
	}
	return f
}

// BuildFacts assembles the standard order/client/vehicle/driver context.
// Nil sections are omitted so their paths resolve to absent.
func BuildFacts(o *model.Order, c *model.Client, v *model.Vehicle, d *model.Driver) Facts {
	f := Facts{}
	if o != nil {
		f["order"] = map[string]any{
			"id":        o.ID,
			"client_id": o.ClientID,
			"zone":      string(o.Zone),
			"pallets":   o.Pallets,
			"weight_kg": o.WeightKg,
			"volume_m3": o.VolumeM3,
			"priority":  o.Priority,
			"urgent":    o.Urgent,
			"status":    string(o.Status),
		}
	}
	if c != nil {
		f["client"] = map[string]any{
			"id":                c.ID,
			"name":              c.Name,
			"requires_forklift": c.RequiresForklift,
		}
	}
	if v != nil {
		zones := make([]any, len(v.Zones))
		for i, z := range v.Zones {
			zones[i] = string(z)
		}
		f["vehicle"] = map[string]any{
			"id":             v.ID,
			"zones":          zones,
			"cap_pallets":    v.CapPallets,
			"cap_weight_kg":  v.CapWeightKg,
			"cap_volume_m3":  v.CapVolumeM3,
			"status":         string(v.Status),
			"rotation_count": v.RotationCount,
			"voltage_ok":     v.VoltageOK,
		}
	}
	if d != nil {
		skills := make([]any, len(d.Skills))
		for i, s := range d.Skills {
			skills[i] = s
		}
		f["driver"] = map[string]any{
			"id":     d.ID,
			"name":   d.Name,
			"skills": skills,
		}
	}
	return f
}
