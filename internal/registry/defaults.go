package registry

// Simulator (X-Plane) data output set numbers.
var DataSets = map[string]int{
	"TIMES":               1,
	"SPEED":               3,
	"MACH_GLOAD":          4,
	"ATMOSPHERE_AIRCRAFT": 6,
	"SYSTEM_PRESSURE":     7,
	"HEADING":             17,
	"AERODYNAMICS":        19,
	"GPS":                 20,
	"DISTTRAVELLED":       21,
	"ENGINE_RPM":          37,
	"N1":                  41,
	"N2":                  42,
	"FUEL_FLOW":           45,
	"ITT":                 46,
	"EGT":                 47,
	"CHT":                 48,
	"OIL_PRES":            49,
	"OIL_TEMP":            50,
	"FUEL_PRES":           51,
	"BATTERY_AMP":         53,
	"BATTERY_VOLT":        54,
	"FUEL_WEIGHT":         62,
	"PAYLOAD_WEIGHTS":     63,
	"NAV_FREQ":            97,
	"NAV_OBS":             98,
	"NAV_DEFLECTION":      99,
	"ADF":                 100,
	"DME":                 101,
	"GPS_STATUS":          102,
	"EFIS":                106,
	"AUTOPILOT_MODES":     117,
	"AUTOPILOT_VALUES":    118,
}

// Bus gateway channel numbers.
var Channels = map[string]int{
	"FMS1": 0,
	"FMS2": 1,
	"IRS":  2,
	"ARHS": 3,
	"GNSS": 4,
	"ADC1": 5,
	"AFDR": 6,
	"ADSB": 7,
	"TCAS": 8,
	"EFIS": 9,
}

type binding struct {
	loc Locator
	dec Decoder
}

type defaultVar struct {
	name     string
	key      int
	bindings []binding
}

var (
	headingRef = FieldRef{Set: DataSets["HEADING"], Pos: 3}
	speedRef   = FieldRef{Set: DataSets["SPEED"], Pos: 3}
)

// defaultVars is the built-in variable schema used when the configuration
// does not provide its own.
var defaultVars = []defaultVar{
	{name: "UTC_SEC", key: 0, bindings: []binding{
		{SimField{Set: DataSets["TIMES"], Pos: 5}, ScaledInt(3600)},
		{BusWord{Channel: Channels["GNSS"], Label: 150}, BCDWord([]int{1, 5, 6, 6}, []float64{0, 3600, 60, 1})},
		{SentenceField{Sentence: "GGA", Pos: 0}, FixTuple()},
	}},
	{name: "GPS_LAT", key: 10, bindings: []binding{
		{SimField{Set: DataSets["GPS"], Pos: 0}, RawValue()},
		{BusWord{Channel: Channels["GNSS"], Label: 110}, BNRWord(20, 180, 0.000172)},
		{SentenceField{Sentence: "GGA", Pos: 1}, FixTuple()},
	}},
	{name: "GPS_LON", key: 11, bindings: []binding{
		{SimField{Set: DataSets["GPS"], Pos: 1}, RawValue()},
		{BusWord{Channel: Channels["GNSS"], Label: 111}, BNRWord(20, 180, 0.000172)},
		{SentenceField{Sentence: "GGA", Pos: 2}, FixTuple()},
	}},
	{name: "BARO_ALT", key: 21, bindings: []binding{
		{SimField{Set: DataSets["GPS"], Pos: 2}, RawValue()},
		{BusWord{Channel: Channels["ADC1"], Label: 203}, BNRWord(17, 131072, 1)},
		{SentenceField{Sentence: "GGA", Pos: 3}, FixTuple()},
	}},
	{name: "GPS_ALT", key: 22, bindings: []binding{
		// Indicated altitude stands in for GPS altitude in the simulator.
		{SimField{Set: DataSets["GPS"], Pos: 5}, RawValue()},
		{BusWord{Channel: Channels["GNSS"], Label: 370}, BNRWord(20, 131072, 0.125)},
	}},
	{name: "GROUND_KTS", key: 32, bindings: []binding{
		{SimField{Set: DataSets["SPEED"], Pos: 3}, RawValue()},
		{BusWord{Channel: Channels["GNSS"], Label: 112}, BNRWord(15, 4096, 0.125)},
		{SentenceField{Sentence: "VTG", Pos: 1}, VelocityTuple()},
	}},
	{name: "VS_FPM", key: 33, bindings: []binding{
		{SimField{Set: DataSets["MACH_GLOAD"], Pos: 2}, RawValue()},
		{BusWord{Channel: Channels["ADC1"], Label: 212}, BNRWord(11, 32768, 16)},
	}},
	{name: "NS_SPEED", key: 34, bindings: []binding{
		{Derived{Pos: 1}, NorthSpeedFrom(headingRef, speedRef)},
		{BusWord{Channel: Channels["GNSS"], Label: 166}, BNRWord(15, 4096, 0.125)},
		{SentenceField{Sentence: "VTG", Pos: 3}, VelocityTuple()},
	}},
	{name: "EW_SPEED", key: 35, bindings: []binding{
		{Derived{Pos: 0}, EastSpeedFrom(headingRef, speedRef)},
		{BusWord{Channel: Channels["GNSS"], Label: 174}, BNRWord(15, 4096, 0.125)},
		{SentenceField{Sentence: "VTG", Pos: 2}, VelocityTuple()},
	}},
	{name: "MAG_HDG", key: 41, bindings: []binding{
		{SimField{Set: DataSets["HEADING"], Pos: 3}, RawValue()},
		{BusWord{Channel: Channels["IRS"], Label: 320}, BNRWord(12, 180, 0.05)},
		{SentenceField{Sentence: "VTG", Pos: 0}, VelocityTuple()},
	}},
	{name: "PITCH", key: 42, bindings: []binding{
		{SimField{Set: DataSets["HEADING"], Pos: 0}, RawValue()},
		{BusWord{Channel: Channels["FMS1"], Label: 324}, BNRWord(14, 180, 0.01)},
	}},
	{name: "ROLL", key: 43, bindings: []binding{
		{SimField{Set: DataSets["HEADING"], Pos: 1}, RawValue()},
		{BusWord{Channel: Channels["FMS1"], Label: 325}, BNRWord(14, 180, 0.01)},
	}},
}

// Default returns the built-in registry.
func Default() (*Registry, error) {
	r := New()
	for _, v := range defaultVars {
		if err := r.Register(v.name, v.key); err != nil {
			return nil, err
		}
		for _, b := range v.bindings {
			if err := r.Bind(v.name, b.loc, b.dec); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}
