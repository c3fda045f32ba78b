package publish

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type fakeMQTT struct {
	mqtt.Client // unused methods panic

	mu       sync.Mutex
	open     bool
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

func (f *fakeMQTT) IsConnectionOpen() bool { return f.open }

func (f *fakeMQTT) Disconnect(uint) { f.open = false }

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topic, f.qos, f.retained = topic, qos, retained
	f.payload = payload.([]byte)
	return doneToken{}
}

func TestMQTTPublishesRetainedState(t *testing.T) {
	c := &fakeMQTT{open: true}
	p := NewMQTT(c, "", 0x0002, nil)

	if err := p.PublishState(true, 17); err != nil {
		t.Fatalf("PublishState: %v", err)
	}
	if c.topic != DefaultTopic || c.qos != 1 || !c.retained {
		t.Fatalf("publish topic/qos/retained = %s/%d/%v", c.topic, c.qos, c.retained)
	}
	var msg StateMessage
	if err := json.Unmarshal(c.payload, &msg); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if msg.Node != 2 || !msg.State || msg.Seq != 17 || msg.TS == 0 {
		t.Fatalf("payload = %+v", msg)
	}
}

func TestMQTTNotConnected(t *testing.T) {
	p := NewMQTT(&fakeMQTT{}, "x", 1, nil)
	if err := p.PublishState(false, 1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestMQTTStatusMarker(t *testing.T) {
	c := &fakeMQTT{open: true}
	announce(c, "site/a", true)
	if c.topic != "site/a/status" || string(c.payload) != "online" || !c.retained || c.qos != 1 {
		t.Fatalf("announce = %s %q retained=%v qos=%d", c.topic, c.payload, c.retained, c.qos)
	}

	p := NewMQTT(c, "site/a", 2, nil)
	p.Close()
	if c.topic != "site/a/status" || string(c.payload) != "offline" || !c.retained {
		t.Fatalf("close published %s %q retained=%v", c.topic, c.payload, c.retained)
	}
	if c.open {
		t.Fatalf("Close did not disconnect")
	}
}

type fakeNATS struct {
	subj string
	data []byte
	err  error
}

func (f *fakeNATS) Publish(subj string, data []byte) error {
	f.subj, f.data = subj, data
	return f.err
}

func TestNATSPublish(t *testing.T) {
	c := &fakeNATS{}
	p := NewNATS(c, "", 9)
	if err := p.PublishState(false, 3); err != nil {
		t.Fatalf("PublishState: %v", err)
	}
	if c.subj != DefaultSubject {
		t.Fatalf("subject = %q, want %q", c.subj, DefaultSubject)
	}
	var msg StateMessage
	_ = json.Unmarshal(c.data, &msg)
	if msg.Node != 9 || msg.State || msg.Seq != 3 {
		t.Fatalf("payload = %+v", msg)
	}

	c.err = errors.New("slow consumer")
	if err := p.PublishState(true, 4); err == nil {
		t.Fatalf("publish error swallowed")
	}
}
