package main

import (
	"context"
	"fmt"
	"time"

	"github.com/parkflow/parkflow-core/internal/automation"
	"github.com/parkflow/parkflow-core/internal/dispatch"
	"github.com/parkflow/parkflow-core/internal/fieldbus"
	"github.com/parkflow/parkflow-core/internal/infrastructure/config"
	"github.com/parkflow/parkflow-core/internal/infrastructure/influxdb"
	"github.com/parkflow/parkflow-core/internal/infrastructure/logging"
	"github.com/parkflow/parkflow-core/internal/infrastructure/mqtt"
	"github.com/parkflow/parkflow-core/internal/park"
	"github.com/parkflow/parkflow-core/internal/pointcache"
)

// sitePublisher is the part of the MQTT client the adapters need.
// *mqtt.Client satisfies it.
type sitePublisher interface {
	PublishConsole(entry any) error
	PublishPoint(deviceID string, row any) error
	PublishFlowStatus(status any) error
}

// metricsWriter is the part of the InfluxDB client the adapters need.
// *influxdb.Client satisfies it.
type metricsWriter interface {
	WritePointState(deviceID string, inputs, outputs []bool, at time.Time)
	WriteOrderSubmission(s influxdb.OrderSample)
}

// flowController starts and stops the automation runner.
// *automation.Runner satisfies it.
type flowController interface {
	Start(ctx context.Context, flowID string) error
	Stop(ctx context.Context) error
}

// devicesFromConfig converts configured devices into fieldbus definitions.
// Defaults have already been applied by config.Load.
func devicesFromConfig(in []config.DeviceConfig) []fieldbus.Device {
	out := make([]fieldbus.Device, 0, len(in))
	for _, d := range in {
		out = append(out, fieldbus.Device{
			ID:          d.ID,
			Address:     d.Address,
			Port:        d.Port,
			SlaveID:     byte(d.SlaveID), //nolint:gosec // Modbus unit ids fit a byte
			Function:    fieldbus.Function(d.Function),
			InputStart:  uint16(d.InputStart),  //nolint:gosec // register offsets fit 16 bits
			OutputStart: uint16(d.OutputStart), //nolint:gosec // register offsets fit 16 bits
			NumInputs:   d.NumInputs,
			NumOutputs:  d.NumOutputs,
		})
	}
	return out
}

// dispatchConfig maps the dispatch section onto the client settings.
func dispatchConfig(c config.DispatchConfig) dispatch.Config {
	return dispatch.Config{
		BaseURL:      c.BaseURL,
		OrdersPath:   c.OrdersPath,
		FleetPath:    c.FleetPath,
		HTTPTimeout:  c.HTTPTimeout,
		MaxAttempts:  c.MaxAttempts,
		RetryDelay:   c.RetryDelay,
		IdlePoll:     c.IdlePoll,
		IdleTimeout:  c.IdleTimeout,
		SystemID:     c.SystemID,
		OrderType:    c.OrderType,
		RequiredAGVs: c.RequiredAGVs,
		Priority:     c.Priority,
		Cargo:        c.Cargo,
	}
}

func parkStates(c config.ParkConfig) automation.ParkStates {
	return automation.ParkStates{
		Source:      park.State(c.SourceState),
		Destination: park.State(c.DestinationState),
	}
}

// mqttConsole mirrors console entries onto the console topic.
// A disconnected broker only costs the mirrored copy.
func mqttConsole(pub sitePublisher, log *logging.Logger) automation.ConsoleSink {
	return automation.ConsoleFunc(func(_ context.Context, e automation.ConsoleEntry) {
		if err := pub.PublishConsole(e); err != nil {
			log.Debug("console entry not mirrored to MQTT", "error", err)
		}
	})
}

// mqttPointObserver publishes every refreshed point row.
func mqttPointObserver(pub sitePublisher, log *logging.Logger) pointcache.Observer {
	return func(_ context.Context, row pointcache.Row) {
		if err := pub.PublishPoint(row.Device, row); err != nil {
			log.Debug("point row not published", "device", row.Device, "error", err)
		}
	}
}

// mqttStatusPublisher keeps the retained flow status topic current.
func mqttStatusPublisher(pub sitePublisher, log *logging.Logger) func(automation.RunStatus) {
	return func(st automation.RunStatus) {
		if err := pub.PublishFlowStatus(st); err != nil {
			log.Warn("flow status not published", "error", err)
		}
	}
}

// influxPointObserver records every refreshed point row as a time series sample.
func influxPointObserver(w metricsWriter) pointcache.Observer {
	return func(_ context.Context, row pointcache.Row) {
		w.WritePointState(row.Device, row.Inputs[:], row.Outputs[:], row.UpdatedAt)
	}
}

// influxOrderRecorder records the outcome of every order submission.
func influxOrderRecorder(w metricsWriter) automation.OrderRecorder {
	return orderRecorderFunc(func(_ context.Context, rec automation.OrderRecord) {
		w.WriteOrderSubmission(influxdb.OrderSample{
			Source:      rec.Source,
			Destination: rec.Destination,
			Outcome:     string(rec.Outcome),
			Attempts:    rec.Attempts,
			Duration:    rec.Duration,
			At:          time.Now(),
		})
	})
}

type orderRecorderFunc func(ctx context.Context, rec automation.OrderRecord)

func (f orderRecorderFunc) RecordOrder(ctx context.Context, rec automation.OrderRecord) { f(ctx, rec) }

// flowCommandHandler starts or stops the runner on commands received over
// MQTT. A start without a flow id runs defaultFlowID.
func flowCommandHandler(ctx context.Context, runner flowController, defaultFlowID string, log *logging.Logger) mqtt.FlowCommandHandler {
	return func(cmd mqtt.FlowCommand) error {
		switch cmd.Action {
		case mqtt.ActionStart:
			flowID := cmd.FlowID
			if flowID == "" {
				flowID = defaultFlowID
			}
			if err := runner.Start(ctx, flowID); err != nil {
				return fmt.Errorf("starting flow %q: %w", flowID, err)
			}
			log.Info("flow started over MQTT", "flow_id", flowID)
		case mqtt.ActionStop:
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
			defer cancel()
			if err := runner.Stop(stopCtx); err != nil {
				return fmt.Errorf("stopping flow: %w", err)
			}
			log.Info("flow stopped over MQTT")
		default:
			return fmt.Errorf("%w: unknown action %q", mqtt.ErrInvalidCommand, cmd.Action)
		}
		return nil
	}
}
