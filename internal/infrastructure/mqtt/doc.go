// Package mqtt provides MQTT client connectivity for the graytap engine.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS validation
//   - Topic subscriptions restored after reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// The engine mirrors device events and session status onto the broker and
// accepts session commands from it:
//
//	graytap/device/{id}/event     user-facing events (QoS from config)
//	graytap/device/{id}/status    session progress (retained)
//	graytap/system/status         online/offline (retained, LWT)
//	graytap/command/{id|all}      start, pause, resume, toggle, stop
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllCommands(), client.QoS(),
//	    func(topic string, payload []byte) error {
//	        target, _ := topics.CommandTarget(topic)
//	        return handle(target, payload)
//	    })
package mqtt
