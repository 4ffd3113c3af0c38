package influxdb

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementPointState      = "point_state"
	MeasurementOrderSubmission = "order_submission"
)

// OrderSample is one finished order submission.
type OrderSample struct {
	Source      string
	Destination string
	Outcome     string
	Attempts    int
	Duration    time.Duration
	At          time.Time
}

// WritePointState records the cached point row of one device.
//
// Fields are named after the point columns: in_1..in_N and out_1..out_N.
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WritePointState(deviceID string, inputs, outputs []bool, at time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := make(map[string]interface{}, len(inputs)+len(outputs))
	for i, v := range inputs {
		fields[fmt.Sprintf("in_%d", i+1)] = v
	}
	for i, v := range outputs {
		fields[fmt.Sprintf("out_%d", i+1)] = v
	}
	if len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		MeasurementPointState,
		map[string]string{"device": deviceID},
		fields,
		at,
	)
	c.writeAPI.WritePoint(point)
}

// WriteOrderSubmission records the outcome of one transport order.
//
// Example:
//
//	client.WriteOrderSubmission(influxdb.OrderSample{
//	    Source: "L-01", Destination: "B-02", Outcome: "succeeded",
//	    Attempts: 3, Duration: 4200 * time.Millisecond, At: time.Now(),
//	})
func (c *Client) WriteOrderSubmission(s OrderSample) {
	if !c.IsConnected() {
		return
	}

	at := s.At
	if at.IsZero() {
		at = time.Now()
	}

	point := write.NewPoint(
		MeasurementOrderSubmission,
		map[string]string{
			"source":      s.Source,
			"destination": s.Destination,
			"outcome":     s.Outcome,
		},
		map[string]interface{}{
			"attempts":    s.Attempts,
			"duration_ms": s.Duration.Milliseconds(),
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}
