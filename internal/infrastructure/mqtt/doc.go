// Package mqtt is Conduit's outward message bus, built on the eclipse
// paho client.
//
// Pool lifecycle events and device state updates fan out over the
// broker to site integrations, and inbound command topics let those
// integrations drive endpoints without touching the HTTP API:
//
//	Conduit <-> Mosquitto <-> wall panels, automations, dashboards
//
// The topic scheme is flat: conduit/{event,state,command,result}/{key},
// plus conduit/system/status for the service's own online/offline
// announcements (retained, with a last-will for crashes). See topics.go
// for the builders.
//
// Reconnection is paho's job; this package tracks active subscriptions
// and replays them when the link returns. Production brokers should
// require TLS (broker.tls: true) and credentials; anonymous plaintext
// is for the dev compose stack only.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return dispatch(topic, payload)
//	    })
package mqtt
