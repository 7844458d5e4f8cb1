package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/employer-billing/internal/lib/sl"
)

// Handler обрабатывает тело сообщения. Ошибка возвращает сообщение в очередь
// один раз, при повторной неудаче оно отбрасывается.
type Handler func(ctx context.Context, body []byte) error

// ConsumerMessage запускает потребителя очереди. Сообщения обрабатываются
// параллельно, не больше prefetch одновременно. Возвращённая функция ждёт
// завершения обработчиков после отмены ctx.
func ConsumerMessage(ctx context.Context, log *slog.Logger, ch *amqp.Channel, queueName string, handler Handler) (func(), error) {
	const op = "rabbitmq.ConsumerMessage"
	log = log.With(sl.Op(op), slog.String("queue", queueName))

	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, prefetch)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case d, ok := <-delivery:
				if !ok {
					return
				}
				sem <- struct{}{}
				wg.Add(1)
				go func(d amqp.Delivery) {
					defer wg.Done()
					defer func() { <-sem }()
					handle(ctx, log, d, handler)
				}(d)
			case <-ctx.Done():
				return
			}
		}
	}()

	wait := func() {
		<-done
		wg.Wait()
	}
	return wait, nil
}

func handle(ctx context.Context, log *slog.Logger, d amqp.Delivery, handler Handler) {
	if err := handler(ctx, d.Body); err != nil {
		requeue := !d.Redelivered
		if requeue {
			log.Warn("message handling failed, requeue", sl.Err(err))
		} else {
			log.Error("message handling failed after redelivery, dropping", sl.Err(err))
		}
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
		return
	}
	if ackErr := d.Ack(false); ackErr != nil {
		log.Error("failed to ack message", sl.Err(ackErr))
	}
}
