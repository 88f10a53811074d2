package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"ytdl-worker/app/logger"
	"ytdl-worker/app/metrics"
	"ytdl-worker/app/schema"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPublishUnconfirmed broker 未确认、拒绝或超时，调用方按网络错误处理
var ErrPublishUnconfirmed = errors.New("消息未被 broker 确认")

// confirmation *amqp.DeferredConfirmation 的等待接口
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// confirmChannel 处于 confirm 模式的发布通道
type confirmChannel interface {
	publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
}

type amqpChannel struct {
	ch *amqp.Channel
}

func (a amqpChannel) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	dc, err := a.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, true, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		// 通道未开启 confirm 模式
		return nil, nil
	}
	return dc, nil
}

// returnBuffer NotifyReturn 通道容量。
// 每条退回都对应一次仍在等待的发布，并发发布数受 prefetch 限制，远小于该值
const returnBuffer = 256

// Publisher 发布 JSON 消息并等待 broker 确认，mandatory 消息被退回时视为未确认
type Publisher struct {
	ch      confirmChannel
	returns <-chan amqp.Return
	timeout time.Duration
	log     *logger.Logger

	mu       sync.Mutex
	returned map[string]struct{}
}

// newPublisher returns 为 NotifyReturn 注册的带缓冲通道，可以为 nil
func newPublisher(ch confirmChannel, returns <-chan amqp.Return, timeout time.Duration, log *logger.Logger) *Publisher {
	return &Publisher{
		ch:       ch,
		returns:  returns,
		timeout:  timeout,
		log:      log.Named("publisher"),
		returned: make(map[string]struct{}),
	}
}

// takeReturned 先取空退回通道再查找。
// 客户端在处理 basic.ack 之前已把 basic.return 写入通道，所以确认返回后这里一定能看到
func (p *Publisher) takeReturned(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drainReturns()
	_, ok := p.returned[id]
	delete(p.returned, id)
	return ok
}

func (p *Publisher) drainReturns() {
	for {
		select {
		case r, ok := <-p.returns:
			if !ok {
				p.returns = nil
				return
			}
			p.log.Errorf("消息被退回: exchange=%s key=%s %d %s", r.Exchange, r.RoutingKey, r.ReplyCode, r.ReplyText)
			metrics.PublishTotal.WithLabelValues(r.Exchange, "returned").Inc()
			p.returned[r.MessageId] = struct{}{}
		default:
			return
		}
	}
}

// PublishJSON 持久化投递并等待确认
func (p *Publisher) PublishJSON(ctx context.Context, exchange, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	msgID := uuid.NewString()
	conf, err := p.ch.publish(ctx, exchange, key, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msgID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		metrics.PublishTotal.WithLabelValues(exchange, "error").Inc()
		return fmt.Errorf("发布到 %s 失败: %w", exchange, err)
	}
	if err := waitConfirmed(ctx, conf); err != nil {
		// 超时后才到达的退回记录不能留在表里
		p.takeReturned(msgID)
		metrics.PublishTotal.WithLabelValues(exchange, "unconfirmed").Inc()
		return fmt.Errorf("发布到 %s: %w", exchange, err)
	}
	if p.takeReturned(msgID) {
		return fmt.Errorf("发布到 %s: %w: 消息无法路由", exchange, ErrPublishUnconfirmed)
	}
	metrics.PublishTotal.WithLabelValues(exchange, "confirmed").Inc()
	p.log.Debugf("消息已确认: %s/%s %s", exchange, key, msgID)
	return nil
}

// waitConfirmed 只有明确的 ack 才算发送成功
func waitConfirmed(ctx context.Context, conf confirmation) error {
	if conf == nil {
		return fmt.Errorf("%w: 通道未开启 confirm 模式", ErrPublishUnconfirmed)
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishUnconfirmed, err)
	}
	if !acked {
		return fmt.Errorf("%w: broker 返回 nack", ErrPublishUnconfirmed)
	}
	return nil
}

func (p *Publisher) PublishSuccess(ctx context.Context, payload *schema.SuccessPayload) error {
	return p.PublishJSON(ctx, SuccessExchange, SuccessQueue, payload)
}

func (p *Publisher) PublishError(ctx context.Context, payload *schema.ErrorPayload) error {
	return p.PublishJSON(ctx, ErrorExchange, ErrorQueue, payload)
}

// PublishInput 生产者投递下载请求
func (p *Publisher) PublishInput(ctx context.Context, payload *schema.InbMediaPayload) error {
	return p.PublishJSON(ctx, InputExchange, InputQueue, payload)
}
