// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"go.sirikata.org/harness/errors"
	"go.sirikata.org/harness/internal/logging"
	"go.sirikata.org/harness/internal/suite"
)

// QoS is the MQTT quality of service used for results: at least once.
const QoS = 1

// PublishTimeout bounds the wait for a broker acknowledgement.
const PublishTimeout = 10 * time.Second

// mqttClient is the subset of mqtt.Client used here.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher sends each result to "<topic>/<suite>/<test>".
type Publisher struct {
	client  mqttClient
	topic   string
	timeout time.Duration
}

// DialMQTT connects to broker, a URL such as "tcp://host:1883".
func DialMQTT(ctx context.Context, broker, topic string) (*Publisher, error) {
	host, _ := os.Hostname()
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("harness-%s-%d", host, os.Getpid()))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectTimeout(PublishTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.Warningf(ctx, "Lost connection to %s: %v", broker, err)
	})

	c := mqtt.NewClient(opts)
	if err := waitToken(ctx, c.Connect(), PublishTimeout); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", broker)
	}
	logging.Debugf(ctx, "Connected to %s", broker)
	return newPublisher(c, topic), nil
}

func newPublisher(c mqttClient, topic string) *Publisher {
	return &Publisher{client: c, topic: topic, timeout: PublishTimeout}
}

// Topic returns the topic a result is published under.
func (p *Publisher) Topic(r *suite.Result) string {
	return path.Join(p.topic, r.Suite, r.Name)
}

// Publish sends r and waits for the broker to acknowledge it.
func (p *Publisher) Publish(ctx context.Context, r *suite.Result) error {
	b, err := json.Marshal(NewEntry(r))
	if err != nil {
		return err
	}
	return waitToken(ctx, p.client.Publish(p.Topic(r), QoS, false, b), p.timeout)
}

// Close disconnects after letting in-flight messages finish.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func waitToken(ctx context.Context, t mqtt.Token, timeout time.Duration) error {
	tm := time.NewTimer(timeout)
	defer tm.Stop()
	select {
	case <-t.Done():
		return t.Error()
	case <-tm.C:
		return errors.Errorf("no acknowledgement after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnResult returns a suite.Options.OnResult hook that publishes every
// result, logging failures instead of stopping the suite.
func (p *Publisher) OnResult(ctx context.Context) func(r *suite.Result) {
	return func(r *suite.Result) {
		if err := p.Publish(ctx, r); err != nil {
			logging.Warningf(ctx, "Failed to publish %s::%s: %v", r.Suite, r.Name, err)
		}
	}
}
