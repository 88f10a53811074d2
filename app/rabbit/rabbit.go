package rabbit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ytdl-worker/app/config"
	"ytdl-worker/app/logger"
	"ytdl-worker/app/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrConsumerClosed 投递通道被关闭，通常是连接断开
var ErrConsumerClosed = errors.New("消费通道已关闭")

// Acknowledger amqp.Delivery 的确认方法
type Acknowledger interface {
	Ack(multiple bool) error
	Reject(requeue bool) error
}

// DeliveryHandler 处理一条消息，负责自行 ack 或 reject
type DeliveryHandler interface {
	HandleDelivery(ctx context.Context, body []byte, ack Acknowledger)
}

// Client 一条连接，发布与消费使用独立通道
type Client struct {
	cfg  config.RabbitMQConfig
	log  *logger.Logger
	conn *amqp.Connection

	consumeCh *amqp.Channel
	publishCh *amqp.Channel
	publisher *Publisher
}

// Dial 建立连接、声明拓扑，发布通道开启 confirm 模式
func Dial(cfg config.RabbitMQConfig, log *logger.Logger) (*Client, error) {
	log = log.Named("rabbitmq")
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	c := &Client{cfg: cfg, log: log, conn: conn}
	if err := c.setup(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Infof("RabbitMQ 已连接，prefetch=%d", cfg.PrefetchCount)
	return c, nil
}

func (c *Client) setup() error {
	var err error
	if c.consumeCh, err = c.conn.Channel(); err != nil {
		return fmt.Errorf("打开消费通道失败: %w", err)
	}
	if err := DeclareTopology(c.consumeCh); err != nil {
		return err
	}
	if err := c.consumeCh.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("设置 prefetch 失败: %w", err)
	}

	if c.publishCh, err = c.conn.Channel(); err != nil {
		return fmt.Errorf("打开发布通道失败: %w", err)
	}
	if err := c.publishCh.Confirm(false); err != nil {
		return fmt.Errorf("开启 confirm 模式失败: %w", err)
	}
	returns := c.publishCh.NotifyReturn(make(chan amqp.Return, returnBuffer))
	c.publisher = newPublisher(amqpChannel{ch: c.publishCh}, returns, c.cfg.PublishTimeout, c.log)
	return nil
}

// Publisher 发布器，与连接同生命周期
func (c *Client) Publisher() *Publisher {
	return c.publisher
}

// NotifyClose 连接断开时收到错误
func (c *Client) NotifyClose() <-chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// Consume 手动确认模式消费输入队列，每条消息一个 goroutine，并发数由 prefetch 限制。
// ctx 取消后停止接收新消息并等待处理中的消息完成，处理过程使用 workCtx。
func (c *Client) Consume(ctx, workCtx context.Context, h DeliveryHandler) error {
	deliveries, err := c.consumeCh.Consume(InputQueue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅队列 %s 失败: %w", InputQueue, err)
	}
	c.log.Infof("开始消费队列 %s", InputQueue)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			if err := c.consumeCh.Cancel(c.cfg.ConsumerTag, false); err != nil {
				c.log.Warnf("取消订阅失败: %v", err)
			}
			c.log.Info("停止消费，等待处理中的消息")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrConsumerClosed
			}
			wg.Add(1)
			metrics.InFlight.Inc()
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer metrics.InFlight.Dec()
				h.HandleDelivery(workCtx, d.Body, d)
			}(d)
		}
	}
}

// Close 先关通道再关连接
func (c *Client) Close() error {
	var errs []error
	if c.publishCh != nil {
		errs = append(errs, ignoreClosed(c.publishCh.Close()))
	}
	if c.consumeCh != nil {
		errs = append(errs, ignoreClosed(c.consumeCh.Close()))
	}
	errs = append(errs, ignoreClosed(c.conn.Close()))
	return errors.Join(errs...)
}

func ignoreClosed(err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}
