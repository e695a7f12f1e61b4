package rabbitmq

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/streadway/amqp"

	"github.com/durvesh-thorat/RETRIVA/metrics"
)

// Message is one received delivery.
type Message struct {
	Body       []byte
	RoutingKey string
	Timestamp  time.Time
}

// UnmarshalTo unmarshals the message body into v.
func (m *Message) UnmarshalTo(v any) error {
	return json.Unmarshal(m.Body, v)
}

// CallbackFunc processes a message. Return nil on success (the delivery is
// acked), Permanent(err) to drop it, or any other error to retry once.
type CallbackFunc func(msg *Message) error

// PermanentError marks a processing failure that must not be retried.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string {
	if e == nil || e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retriable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func isPermanent(err error) bool {
	var perr *PermanentError
	return errors.As(err, &perr)
}

// Subscriber consumes a queue with a bounded worker pool. Deliveries are
// acked after processing completes, and the consume loop reconnects with a
// doubling backoff when the broker goes away.
type Subscriber struct {
	amqpURL  string
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	queue    string
	workers  int

	// opMu serializes channel operations; amqp.Channel is not safe for
	// concurrent use.
	opMu      sync.Mutex
	startOnce sync.Once
	done      chan struct{}
}

// NewSubscriber connects and declares the exchange and queue, failing fast
// when the broker is unreachable.
func NewSubscriber(amqpURL, exchange, queue string, workers int) (*Subscriber, error) {
	if workers <= 0 {
		workers = 1
	}
	s := &Subscriber{
		amqpURL:  amqpURL,
		exchange: exchange,
		queue:    queue,
		workers:  workers,
		done:     make(chan struct{}),
	}

	s.opMu.Lock()
	err := s.reconnectLocked()
	s.opMu.Unlock()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins consuming and dispatching deliveries to the routing key
// callbacks. Only the first call has an effect.
func (s *Subscriber) Start(callbacks map[string]CallbackFunc) {
	s.startOnce.Do(func() {
		jobs := make(chan amqp.Delivery, s.workers)
		for i := 0; i < s.workers; i++ {
			go func() {
				for delivery := range jobs {
					s.process(delivery, callbacks)
				}
			}()
		}
		go s.consumeLoop(jobs, callbacks)
	})
}

// Close stops the consume loop and closes the connection.
func (s *Subscriber) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	var err error
	if s.channel != nil {
		if channelErr := s.channel.Close(); channelErr != nil {
			err = channelErr
		}
		s.channel = nil
	}
	if s.conn != nil {
		if connErr := s.conn.Close(); connErr != nil && err == nil {
			err = connErr
		}
		s.conn = nil
	}
	metrics.RabbitMQConnected.Set(0)
	return err
}

// IsConnected reports whether the subscriber currently holds an open
// connection and channel.
func (s *Subscriber) IsConnected() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.conn != nil && !s.conn.IsClosed() && s.channel != nil
}

func (s *Subscriber) process(delivery amqp.Delivery, callbacks map[string]CallbackFunc) {
	startedAt := time.Now()
	metrics.WorkerInFlight.Inc()
	defer metrics.WorkerInFlight.Dec()

	callback, ok := callbacks[delivery.RoutingKey]
	if !ok {
		log.Warnf("no callback for routing key %s, dropping delivery", delivery.RoutingKey)
		s.settle(delivery, false, false)
		s.observe("permanent_error", startedAt)
		return
	}

	err := runCallback(callback, &Message{
		Body:       delivery.Body,
		RoutingKey: delivery.RoutingKey,
		Timestamp:  delivery.Timestamp,
	})
	switch {
	case err == nil:
		s.settle(delivery, true, false)
		s.observe("success", startedAt)
	case isPermanent(err):
		log.Errorf("dropping %s delivery: %v", delivery.RoutingKey, err)
		s.settle(delivery, false, false)
		s.observe("permanent_error", startedAt)
	default:
		// one redelivery, then drop; no retry exchange at this scale
		requeue := !delivery.Redelivered
		log.Warnf("transient failure on %s delivery (requeue=%t): %v", delivery.RoutingKey, requeue, err)
		s.settle(delivery, false, requeue)
		s.observe("transient_error", startedAt)
	}
}

// runCallback folds panics into permanent failures so a poison message cannot
// kill a worker.
func runCallback(callback CallbackFunc, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("callback panic: %v", r))
		}
	}()
	return callback(msg)
}

func (s *Subscriber) settle(delivery amqp.Delivery, ack, requeue bool) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var err error
	if ack {
		err = delivery.Ack(false)
	} else {
		err = delivery.Nack(false, requeue)
	}
	if err != nil {
		log.Warnf("failed to settle delivery %d: %v", delivery.DeliveryTag, err)
	}
}

func (s *Subscriber) observe(result string, startedAt time.Time) {
	metrics.ProcessedTotal.WithLabelValues(result).Inc()
	metrics.ProcessingDurationSeconds.WithLabelValues(result).Observe(time.Since(startedAt).Seconds())
}

func (s *Subscriber) consumeLoop(jobs chan<- amqp.Delivery, callbacks map[string]CallbackFunc) {
	backoff := time.Second
	for {
		select {
		case <-s.done:
			close(jobs)
			return
		default:
		}

		msgs, err := s.openConsumer(callbacks)
		if err != nil {
			log.Warnf("rabbitmq consume setup failed for %s: %v", s.queue, err)
			backoff = s.wait(backoff)
			continue
		}

		log.Infof("consuming %s on exchange %s with %d workers", s.queue, s.exchange, s.workers)
		backoff = time.Second

	drain:
		for {
			select {
			case <-s.done:
				close(jobs)
				return
			case delivery, ok := <-msgs:
				if !ok {
					metrics.RabbitMQConnected.Set(0)
					log.Warnf("delivery channel closed for %s, reconnecting", s.queue)
					backoff = s.wait(backoff)
					break drain
				}
				jobs <- delivery
			}
		}
	}
}

// openConsumer (re)establishes the connection if needed, re-applies QoS and
// bindings, and starts a consumer.
func (s *Subscriber) openConsumer(callbacks map[string]CallbackFunc) (<-chan amqp.Delivery, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.conn == nil || s.conn.IsClosed() || s.channel == nil {
		if err := s.reconnectLocked(); err != nil {
			return nil, err
		}
	}

	if err := s.channel.Qos(s.workers, 0, false); err != nil {
		metrics.RabbitMQConnected.Set(0)
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}
	for routingKey := range callbacks {
		if err := s.channel.QueueBind(s.queue, routingKey, s.exchange, false, nil); err != nil {
			metrics.RabbitMQConnected.Set(0)
			return nil, fmt.Errorf("failed to bind %s: %w", routingKey, err)
		}
	}

	msgs, err := s.channel.Consume(s.queue, "", false, false, false, false, nil)
	if err != nil {
		metrics.RabbitMQConnected.Set(0)
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}
	return msgs, nil
}

// reconnectLocked tears down any existing channel and connection and
// recreates them. Caller must hold opMu.
func (s *Subscriber) reconnectLocked() error {
	if s.channel != nil {
		_ = s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	conn, err := amqp.Dial(s.amqpURL)
	if err != nil {
		metrics.RabbitMQConnected.Set(0)
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		metrics.RabbitMQConnected.Set(0)
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(s.exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		metrics.RabbitMQConnected.Set(0)
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		metrics.RabbitMQConnected.Set(0)
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	s.conn = conn
	s.channel = ch
	metrics.RabbitMQConnected.Set(1)
	return nil
}

func (s *Subscriber) wait(backoff time.Duration) time.Duration {
	time.Sleep(backoff)
	if backoff < 30*time.Second {
		backoff *= 2
	}
	return backoff
}
