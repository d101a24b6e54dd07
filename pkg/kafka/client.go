// Package kafka 提供了与 Kafka 消息队列交互的功能：发布和订阅结构变更事件。
package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"variantenbaum-go/internal/config"
	"variantenbaum-go/pkg/log"
)

// Publisher 在写入提交之后发布变更事件。发布失败只记录日志，不影响已提交的写入。
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent)
	Close() error
}

// NewPublisher 根据配置创建发布者。未配置 broker 时返回 NoopPublisher。
func NewPublisher(cfg config.KafkaConfig) Publisher {
	brokers := splitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		log.Info("未配置 Kafka broker，变更事件不会被发布")
		return NoopPublisher{}
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	log.Infof("Kafka 生产者初始化成功, topic=%s", cfg.Topic)
	return &writerPublisher{w: w}
}

type writerPublisher struct {
	w messageWriter
}

// messageWriter 是 *kafka.Writer 的最小接口，便于测试替换。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func (p *writerPublisher) Publish(ctx context.Context, ev ChangeEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		log.Error("序列化变更事件失败", err)
		return
	}
	// 同一产品族的事件使用相同的 key，保证分区内有序
	msg := kafka.Message{Key: []byte(ev.Family), Value: value}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		log.Warnw("发布变更事件失败", "type", ev.Type, "entity_id", ev.EntityID, "error", err)
	}
}

func (p *writerPublisher) Close() error { return p.w.Close() }

// NoopPublisher 丢弃所有事件。
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, ChangeEvent) {}
func (NoopPublisher) Close() error                        { return nil }

// Tail 订阅变更事件并对每条事件调用 handle，直到 ctx 取消或读取失败。
func Tail(ctx context.Context, cfg config.KafkaConfig, groupID string, handle func(ChangeEvent)) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  splitBrokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var ev ChangeEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		} else {
			handle(ev)
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
