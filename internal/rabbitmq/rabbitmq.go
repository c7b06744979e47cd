package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Config struct {
	URL string
}

func New(cfg Config) (*amqp.Connection, error) {
	const op = "rabbitmq.New"

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return conn, nil
}
