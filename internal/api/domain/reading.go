package domain

import "time"

// Engine status labels as reported by devices. The set is open at the
// wire level; stats only bucket the three known ones.
const (
	StatusRunning = "running"
	StatusWarning = "warning"
	StatusError   = "error"
	StatusUnknown = "unknown"
)

// RawReading is a telemetry message exactly as decoded off the wire.
// Every field is optional in the payload; decoding substitutes zero
// values and StatusUnknown rather than failing.
type RawReading struct {
	DeviceID       string  `json:"device_id"`
	DeviceName     string  `json:"device_name"`
	DeviceIP       string  `json:"device_ip"`
	DeviceSubnet   string  `json:"device_subnet"`
	DeviceMAC      string  `json:"device_mac"`
	Temperature    float64 `json:"temperature"`
	RPM            float64 `json:"rpm"`
	OilPressure    float64 `json:"oil_pressure"`
	Vibration      float64 `json:"vibration"`
	LoadPercentage float64 `json:"load_percentage"`
	Status         string  `json:"status"`
	Event          *string `json:"event,omitempty"`
	Timestamp      float64 `json:"timestamp"`
	Datetime       string  `json:"datetime"`
}

// Reading builds the persistable row for a raw message. The storage
// fields (ID, CreatedAt) stay zero until the store assigns them.
func (r RawReading) Reading() Reading {
	return Reading{
		DeviceID:       r.DeviceID,
		DeviceName:     r.DeviceName,
		DeviceIP:       r.DeviceIP,
		DeviceSubnet:   r.DeviceSubnet,
		DeviceMAC:      r.DeviceMAC,
		Temperature:    r.Temperature,
		RPM:            r.RPM,
		OilPressure:    r.OilPressure,
		Vibration:      r.Vibration,
		LoadPercentage: r.LoadPercentage,
		Status:         r.Status,
		Event:          r.Event,
		Timestamp:      r.Timestamp,
		Datetime:       r.Datetime,
	}
}

// Reading is a persisted telemetry row. ID and CreatedAt are assigned by
// the store on insert; rows are immutable afterwards.
type Reading struct {
	ID             int64
	DeviceID       string
	DeviceName     string
	DeviceIP       string
	DeviceSubnet   string
	DeviceMAC      string
	Temperature    float64
	RPM            float64
	OilPressure    float64
	Vibration      float64
	LoadPercentage float64
	Status         string
	Event          *string
	Timestamp      float64
	Datetime       string
	CreatedAt      time.Time
}

// RangeStats summarises one measurement across a stats window.
type RangeStats struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Stats is the aggregate computed over the most recent readings.
// TotalRecords counts the aggregation window; TotalStored counts every
// reading ever persisted.
type Stats struct {
	Temperature  RangeStats     `json:"temperature"`
	RPM          RangeStats     `json:"rpm"`
	TotalRecords int            `json:"total_records"`
	TotalStored  int64          `json:"total_stored"`
	StatusCounts map[string]int `json:"status_distribution"`
}
