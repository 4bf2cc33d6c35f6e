package broker

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/scrsdk/tonojet-services/internal/comm"
)

// Publisher abstracts the event bus so services can be tested with a
// recorder instead of a live NATS connection.
type Publisher interface {
	Publish(subject, eventType string, payload interface{}) error
}

// Broker publishes settlement events and round fairness publications
// over NATS.
type Broker struct {
	Conn *nats.Conn
}

var _ Publisher = (*Broker)(nil)

func NewBroker(nc *nats.Conn) *Broker {
	return &Broker{Conn: nc}
}

func (b *Broker) Publish(subject, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("unable to marshal %s payload: %v", eventType, err)
		return err
	}

	msg := &comm.Envelope{
		Type: eventType,
		Data: data,
	}

	out, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Error marshaling envelope: %v", err)
		return err
	}

	return b.Conn.Publish(subject, out)
}
