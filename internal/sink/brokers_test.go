package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"

	"avbridge/internal/registry"
	"avbridge/internal/source"
	"avbridge/internal/translator"
)

// fakeToken is an mqtt.Token that completes when done is closed.
type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool { return t.Wait() }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

func fakeMQTT(tok mqtt.Token, got *[]published) *MQTT {
	return &MQTT{
		cfg: MQTTConfig{Topic: "aircraft/ownship", QoS: 1, Retain: true, Timeout: 50 * time.Millisecond},
		publish: func(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
			*got = append(*got, published{topic: topic, qos: qos, retain: retained, payload: payload.([]byte)})
			return tok
		},
	}
}

func TestMQTT_SendPublishesToSourceTopic(t *testing.T) {
	var got []published
	m := fakeMQTT(completedToken(nil), &got)

	r := source.Reading{Source: registry.Bus, Seq: 5, Values: map[int]float64{21: 3500}}
	if err := m.Send(context.Background(), r); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("publishes=%d want 1", len(got))
	}
	p := got[0]
	if p.topic != "aircraft/ownship/bus" || p.qos != 1 || !p.retain {
		t.Fatalf("publish=%+v", p)
	}
	back, err := Decode(p.payload)
	if err != nil || back.Values[21] != 3500 {
		t.Fatalf("payload=%s err=%v", p.payload, err)
	}
}

func TestMQTT_SendFailures(t *testing.T) {
	var got []published

	m := fakeMQTT(completedToken(errors.New("not connected")), &got)
	if err := m.Send(context.Background(), source.Reading{Source: registry.GNSS}); !errors.Is(err, translator.ErrSinkUnavailable) {
		t.Fatalf("rejected publish err=%v want ErrSinkUnavailable", err)
	}

	// A token that never completes runs into the publish timeout.
	m = fakeMQTT(&fakeToken{done: make(chan struct{})}, &got)
	start := time.Now()
	if err := m.Send(context.Background(), source.Reading{Source: registry.GNSS}); !errors.Is(err, translator.ErrSinkUnavailable) {
		t.Fatalf("stuck publish err=%v want ErrSinkUnavailable", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("publish timeout not honoured")
	}
}

func TestNATS_SendPublishesToSourceSubject(t *testing.T) {
	var subjects []string
	n := &NATS{
		cfg: NATSConfig{Subject: "telemetry", Timeout: time.Second},
		publish: func(subject string, data []byte) error {
			subjects = append(subjects, subject)
			if _, err := Decode(data); err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			return nil
		},
	}
	if err := n.Send(context.Background(), source.Reading{Source: registry.Simulator}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if len(subjects) != 1 || subjects[0] != "telemetry.simulator" {
		t.Fatalf("subjects=%v", subjects)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close() without conn error: %v", err)
	}
}

func TestNATS_SendFailureIsUnavailable(t *testing.T) {
	n := &NATS{
		cfg:     NATSConfig{Subject: "telemetry"},
		publish: func(string, []byte) error { return nats.ErrConnectionClosed },
	}
	err := n.Send(context.Background(), source.Reading{Source: registry.Bus})
	if !errors.Is(err, translator.ErrSinkUnavailable) {
		t.Fatalf("err=%v want ErrSinkUnavailable", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.publish = func(string, []byte) error {
		t.Fatalf("publish after cancel")
		return nil
	}
	if err := n.Send(ctx, source.Reading{}); !errors.Is(err, translator.ErrSinkUnavailable) {
		t.Fatalf("cancelled err=%v", err)
	}
}
