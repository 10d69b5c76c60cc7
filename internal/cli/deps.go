package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Gateflow/internal/mq"
	"github.com/shaiso/Gateflow/internal/repo"
)

// Deps — зависимости CLI-команд: репозитории и publisher.
//
// CLI работает напрямую с БД и очередью: команды записывают
// определения/инстансы и публикуют события, которые подхватывает
// engine. Без RabbitMQ CLI остаётся работоспособным — engine
// заберёт изменения через polling.
type Deps struct {
	Pool *pgxpool.Pool

	Definitions *repo.DefinitionRepo
	Processes   *repo.ProcessRepo
	Nodes       *repo.NodeRepo

	Conn      *mq.Connection
	Publisher *mq.Publisher

	Logger *slog.Logger
}

// Connect устанавливает соединения и строит зависимости.
func Connect(ctx context.Context, logger *slog.Logger) (*Deps, error) {
	pool, err := repo.NewPool(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	d := &Deps{
		Pool:        pool,
		Definitions: repo.NewDefinitionRepo(pool),
		Processes:   repo.NewProcessRepo(pool),
		Nodes:       repo.NewNodeRepo(pool),
		Logger:      logger,
	}

	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	conn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, events will not be published", "error", err)
		return d, nil
	}

	d.Conn = conn
	d.Publisher = mq.NewPublisher(conn, logger)
	return d, nil
}

// Close закрывает соединения.
func (d *Deps) Close() {
	if d.Conn != nil {
		d.Conn.Close()
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
}
