package mq

import (
	"testing"
	"time"
)

func TestKafkaMessageHeaders(t *testing.T) {
	ts := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	msg := NewMessage("c-1", []byte(`{"id":"c-1"}`))
	msg.Timestamp = ts
	msg.SetHeader("event", "campaign.finished")

	km := toKafkaMessage("rvcampaign.events", msg)
	if string(km.Key) != "c-1" || km.Topic != "rvcampaign.events" {
		t.Fatalf("kafka message = %+v", km)
	}

	got := fromKafkaMessage(km)
	if got.ID != "c-1" || !got.Timestamp.Equal(ts) || got.MaxRetries != 3 {
		t.Fatalf("decoded = %+v", got)
	}
	if v, ok := got.GetHeader("event"); !ok || v != "campaign.finished" {
		t.Fatalf("event header = %q, %v", v, ok)
	}
	if _, ok := got.Headers[headerID]; ok {
		t.Fatal("reserved headers must not leak into Headers")
	}
}

func TestNewKafkaRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaProducer(KafkaConfig{}); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewKafkaConsumer(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatal("expected error without topic")
	}
}
