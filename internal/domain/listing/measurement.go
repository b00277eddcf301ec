package listing

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// UnitFamily groups units that convert into each other
type UnitFamily string

const (
	FamilyLength UnitFamily = "length"
	FamilyWeight UnitFamily = "weight"
	FamilyVolume UnitFamily = "volume"
)

// Unit is a physical unit with its factor to the family base (mm, g, ml)
type Unit struct {
	Symbol string
	Family UnitFamily
	toBase decimal.Decimal
}

var unitTable = map[string]Unit{
	"mm": {Symbol: "mm", Family: FamilyLength, toBase: decimal.NewFromInt(1)},
	"cm": {Symbol: "cm", Family: FamilyLength, toBase: decimal.NewFromInt(10)},
	"m":  {Symbol: "m", Family: FamilyLength, toBase: decimal.NewFromInt(1000)},
	"in": {Symbol: "in", Family: FamilyLength, toBase: decimal.RequireFromString("25.4")},
	"ft": {Symbol: "ft", Family: FamilyLength, toBase: decimal.RequireFromString("304.8")},
	"g":  {Symbol: "g", Family: FamilyWeight, toBase: decimal.NewFromInt(1)},
	"kg": {Symbol: "kg", Family: FamilyWeight, toBase: decimal.NewFromInt(1000)},
	"lb": {Symbol: "lb", Family: FamilyWeight, toBase: decimal.RequireFromString("453.59237")},
	"oz": {Symbol: "oz", Family: FamilyWeight, toBase: decimal.RequireFromString("28.349523125")},
	"ml": {Symbol: "ml", Family: FamilyVolume, toBase: decimal.NewFromInt(1)},
	"l":  {Symbol: "l", Family: FamilyVolume, toBase: decimal.NewFromInt(1000)},
}

var unitAliases = map[string]string{
	"millimeter": "mm", "millimeters": "mm", "millimetre": "mm", "millimetres": "mm",
	"centimeter": "cm", "centimeters": "cm", "centimetre": "cm", "centimetres": "cm",
	"meter": "m", "meters": "m", "metre": "m", "metres": "m",
	"inch": "in", "inches": "in", `"`: "in",
	"foot": "ft", "feet": "ft",
	"gram": "g", "grams": "g",
	"kilogram": "kg", "kilograms": "kg", "kgs": "kg",
	"pound": "lb", "pounds": "lb", "lbs": "lb",
	"ounce": "oz", "ounces": "oz",
	"milliliter": "ml", "milliliters": "ml", "millilitre": "ml", "millilitres": "ml",
	"liter": "l", "liters": "l", "litre": "l", "litres": "l",
}

// LookupUnit resolves a unit token or alias
func LookupUnit(token string) (Unit, bool) {
	t := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(token), "."))
	if alias, ok := unitAliases[t]; ok {
		t = alias
	}
	u, ok := unitTable[t]
	return u, ok
}

// Measurement is a {measure, unit} pair
type Measurement struct {
	Measure decimal.Decimal
	Unit    string
}

// NewMeasurement creates a measurement with a canonical unit symbol
func NewMeasurement(measure decimal.Decimal, unit string) (Measurement, bool) {
	u, ok := LookupUnit(unit)
	if !ok {
		return Measurement{}, false
	}
	return Measurement{Measure: measure, Unit: u.Symbol}, true
}

// String returns "<measure> <unit>"
func (m Measurement) String() string {
	return m.Measure.String() + " " + m.Unit
}

// Round rounds the measure to the given decimal places
func (m Measurement) Round(places int32) Measurement {
	return Measurement{Measure: m.Measure.Round(places), Unit: m.Unit}
}

// ConvertTo converts the measurement into the target unit of the same family
func (m Measurement) ConvertTo(unit string) (Measurement, error) {
	from, ok := LookupUnit(m.Unit)
	if !ok {
		return Measurement{}, fmt.Errorf("%w: unknown unit %q", ErrFieldCoercion, m.Unit)
	}
	to, ok := LookupUnit(unit)
	if !ok {
		return Measurement{}, fmt.Errorf("%w: unknown unit %q", ErrFieldCoercion, unit)
	}
	if from.Family != to.Family {
		return Measurement{}, fmt.Errorf("%w: cannot convert %s to %s", ErrFieldCoercion, from.Symbol, to.Symbol)
	}
	if from.Symbol == to.Symbol {
		return m, nil
	}
	v := m.Measure.Mul(from.toBase).Div(to.toBase).Round(2)
	return Measurement{Measure: v, Unit: to.Symbol}, nil
}

// ConvertToNearest passes the measurement through when its unit is allowed,
// otherwise converts it to the allowed unit of the same family closest in scale.
// The boolean is false when no allowed unit shares the family.
func (m Measurement) ConvertToNearest(allowed []string) (Measurement, bool) {
	from, ok := LookupUnit(m.Unit)
	if !ok {
		return Measurement{}, false
	}
	if len(allowed) == 0 {
		return m, true
	}
	var (
		best     Unit
		bestDist = math.Inf(1)
	)
	for _, a := range allowed {
		u, ok := LookupUnit(a)
		if !ok || u.Family != from.Family {
			continue
		}
		if u.Symbol == from.Symbol {
			return m, true
		}
		ratio := from.toBase.Div(u.toBase).InexactFloat64()
		if d := math.Abs(math.Log(ratio)); d < bestDist {
			best, bestDist = u, d
		}
	}
	if math.IsInf(bestDist, 1) {
		return Measurement{}, false
	}
	out, err := m.ConvertTo(best.Symbol)
	if err != nil {
		return Measurement{}, false
	}
	return out, true
}

type measurementJSON struct {
	Measure json.Number `json:"measure"`
	Unit    string      `json:"unit"`
}

// MarshalJSON encodes the measure as a JSON number
func (m Measurement) MarshalJSON() ([]byte, error) {
	return json.Marshal(measurementJSON{Measure: json.Number(m.Measure.String()), Unit: m.Unit})
}

// UnmarshalJSON decodes {"measure": n, "unit": "u"}
func (m *Measurement) UnmarshalJSON(data []byte) error {
	var raw measurementJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := decimal.NewFromString(raw.Measure.String())
	if err != nil {
		return fmt.Errorf("invalid measure: %w", err)
	}
	m.Measure = d
	m.Unit = raw.Unit
	return nil
}
