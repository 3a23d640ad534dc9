// Package notify доставляет уведомления пользователям во внешние каналы.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mmeshcher/virtual-bank/internal/metrics"
	"github.com/mmeshcher/virtual-bank/internal/model"
)

const publishTimeout = 5 * time.Second

// Publisher доставляет одно уведомление.
type Publisher interface {
	Publish(ctx context.Context, event model.NotificationEvent) error
	Close() error
}

// RoutingKey возвращает ключ маршрутизации для уведомления.
func RoutingKey(event model.NotificationEvent) string {
	if event.Broadcast() {
		return "notification.broadcast"
	}
	return "notification.user." + event.AccountID
}

// LogPublisher пишет уведомления в журнал. Используется, если брокер не настроен.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher создаёт публикатор в журнал.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish записывает уведомление в журнал.
func (p *LogPublisher) Publish(_ context.Context, event model.NotificationEvent) error {
	p.logger.Info("notification",
		zap.String("routing_key", RoutingKey(event)),
		zap.String("text", event.Text),
		zap.Time("at", event.At))
	return nil
}

// Close ничего не делает.
func (p *LogPublisher) Close() error {
	return nil
}

// AMQPPublisher публикует уведомления в topic-обменник RabbitMQ.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPPublisher подключается к брокеру и объявляет обменник.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// Publish отправляет уведомление в обменник.
func (p *AMQPPublisher) Publish(ctx context.Context, event model.NotificationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	// amqp.Channel нельзя использовать из нескольких горутин одновременно
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, RoutingKey(event), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.At,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение с брокером.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return fmt.Errorf("close channel: %w", err)
	}
	return p.conn.Close()
}

// Dispatcher асинхронно передаёт уведомления публикатору через пул горутин.
type Dispatcher struct {
	pool      *ants.Pool
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.Collector
	wg        sync.WaitGroup
}

// NewDispatcher создаёт диспетчер с пулом из workers горутин.
func NewDispatcher(publisher Publisher, workers int, logger *zap.Logger, m *metrics.Collector) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := ants.NewPool(max(workers, 1))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Dispatcher{pool: pool, publisher: publisher, logger: logger, metrics: m}, nil
}

// Publish ставит уведомления в очередь доставки. Ошибки доставки только журналируются.
func (d *Dispatcher) Publish(ctx context.Context, events []model.NotificationEvent) {
	ctx = context.WithoutCancel(ctx)
	for _, event := range events {
		d.wg.Add(1)
		err := d.pool.Submit(func() {
			defer d.wg.Done()
			d.deliver(ctx, event)
		})
		if err != nil {
			d.wg.Done()
			d.metrics.NotificationPublished(err)
			d.logger.Warn("notification dropped", zap.String("routing_key", RoutingKey(event)), zap.Error(err))
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event model.NotificationEvent) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := d.publisher.Publish(ctx, event)
	d.metrics.NotificationPublished(err)
	if err != nil {
		d.logger.Warn("notification delivery failed", zap.String("routing_key", RoutingKey(event)), zap.Error(err))
	}
}

// Close дожидается доставки поставленных уведомлений и освобождает ресурсы.
func (d *Dispatcher) Close() error {
	d.wg.Wait()
	d.pool.Release()
	return d.publisher.Close()
}
