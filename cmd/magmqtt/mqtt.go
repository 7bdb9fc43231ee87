// Copyright (c) 2023 cavelab, see LICENSE file for details

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// mq is a handle onto an MQTT broker connection. It hides the paho client's
// token dance behind a plain Publish call; the connection is persistent and
// re-establishes itself after a disconnect.
type mq struct {
	conn mqtt.Client
}

func newMQ(conf MqttOpt) (*mq, error) {
	hostname, _ := os.Hostname()
	id := defaultAppName + "-" + hostname
	log.Debugf("configuring MQTT with client id %s for %s:%d", id, conf.Host, conf.Port)

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", conf.Host, conf.Port))
	opts.ClientID = id
	opts.Username = conf.User
	opts.Password = conf.Password

	conn := mqtt.NewClient(opts)
	token := conn.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s:%d", conf.Host, conf.Port)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("cannot connect to MQTT broker: %w", err)
	}
	log.Infoln("MQTT connected")
	return &mq{conn: conn}, nil
}

// Publish JSON encodes the payload and publishes it with QoS 1. Publish errors
// are logged, not returned: readings are periodic and a lost one is stale by
// the time it could be retried.
func (mq *mq) Publish(topic string, payload interface{}) {
	buf, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("cannot json encode payload for %s: %s", topic, err)
		return
	}
	token := mq.conn.Publish(topic, 1, false, buf)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.Errorf("cannot publish to %s: %s", topic, err)
		}
	}()
}
