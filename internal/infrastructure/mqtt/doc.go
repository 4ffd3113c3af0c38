// Package mqtt provides MQTT client connectivity for ParkFlow Core.
//
// The broker is an optional side channel: the engine runs the same without
// it, and every publish fails fast with ErrNotConnected while it is away.
//
// # Topics
//
// Every topic lives under parkflow/<site>/:
//
//	console          operator console entries
//	points/<device>  cached point row after each sync
//	flow/status      retained runner status
//	flow/command     {"action":"start"|"stop","flow_id":"..."} from remote operators
//	system/status    retained online/offline, also the LWT
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.SubscribeFlowCommands(func(cmd mqtt.FlowCommand) error {
//	    ...
//	})
//	_ = client.PublishFlowStatus(status)
package mqtt
