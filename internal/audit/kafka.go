package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// kgo.Client のうち使う分だけ
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// KafkaSink は監査ログを Kafka に流す。送信結果はコールバックでログに出すだけ。
type KafkaSink struct {
	p     producer
	topic string
	log   *slog.Logger
}

var _ Sink = (*KafkaSink)(nil)

func NewKafkaSink(p producer, topic string, log *slog.Logger) *KafkaSink {
	return &KafkaSink{p: p, topic: topic, log: log}
}

func (k *KafkaSink) Append(ctx context.Context, e Event) error {
	buf, err := json.Marshal(e)
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(e.Action),
		Value: buf,
	}
	k.p.Produce(ctx, rec, func(r *kgo.Record, err error) {
		if err != nil {
			k.log.Error("kafka produce failed", "topic", r.Topic, "action", e.Action, "err", err)
		}
	})
	return nil
}
