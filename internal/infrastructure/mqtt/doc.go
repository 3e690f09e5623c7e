// Package mqtt connects fpcore to an MQTT broker.
//
// The client carries capture and attendance events (via
// events.MQTTPublisher, QoS 0) and retained reader status messages. It
// keeps a retained status on fpcore/system/status, with a will message for
// unclean exits.
//
// An external gateway that tracks client sessions can publish to
// fpcore/session/{session}/disconnected; SubscribeSessionDisconnects turns
// those messages into reservation releases. Close drops every tracked
// subscription before going offline.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	err = client.SubscribeSessionDisconnects(0, registry)
package mqtt
