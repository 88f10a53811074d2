package rabbit

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	InputQueue   = "input.q"
	SuccessQueue = "success.q"
	ErrorQueue   = "error.q"

	InputExchange   = "input.dx"
	SuccessExchange = "success.dx"
	ErrorExchange   = "error.dx"
)

// Binding 一个 direct 交换机绑定一个同名路由键的队列
type Binding struct {
	Exchange string
	Queue    string
}

// Topology 持久化的交换机与队列
var Topology = []Binding{
	{Exchange: InputExchange, Queue: InputQueue},
	{Exchange: SuccessExchange, Queue: SuccessQueue},
	{Exchange: ErrorExchange, Queue: ErrorQueue},
}

// declarer *amqp.Channel 的声明方法
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareTopology 声明交换机、队列并以队列名为路由键绑定，可重复调用
func DeclareTopology(ch declarer) error {
	for _, b := range Topology {
		if err := ch.ExchangeDeclare(b.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("声明交换机 %s 失败: %w", b.Exchange, err)
		}
		if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("声明队列 %s 失败: %w", b.Queue, err)
		}
		if err := ch.QueueBind(b.Queue, b.Queue, b.Exchange, false, nil); err != nil {
			return fmt.Errorf("绑定队列 %s 到 %s 失败: %w", b.Queue, b.Exchange, err)
		}
	}
	return nil
}
