// Package worker выполняет отдельные активности процессов.
//
// # Обзор
//
// Worker — stateless компонент системы Gateflow, который выполняет
// активности, диспетчеризованные Engine'ом. Worker отвечает за:
//
//   - Получение готовых узлов из очереди RabbitMQ (event-driven)
//   - Периодическую проверку READY-узлов в БД (polling fallback)
//   - Выполнение активности в зависимости от её типа (auto, delay, script)
//   - Отправку результата обратно в очередь nodes.completed
//
// Workers масштабируются горизонтально — несколько экземпляров
// потребляют из одной очереди nodes.ready.
//
// # Ключевые компоненты
//
// ## Worker
//
// Основная структура, управляющая жизненным циклом.
// Создаётся через New(cfg Config) и запускается методом Start(ctx).
//
//	w := worker.New(worker.Config{
//	    NodeRepo:       nodeRepo,
//	    ProcessRepo:    processRepo,
//	    DefinitionRepo: definitionRepo,
//	    Publisher:      publisher,
//	    Conn:           mqConn,
//	    Logger:         logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// ## Executor
//
// Интерфейс для выполнения конкретного типа активности:
//
//	type Executor interface {
//	    Execute(ctx context.Context, exec *Execution) (*ExecutionResult, error)
//	}
//
// Реализации:
//   - AutoExecutor   — немедленное завершение (системные шаги)
//   - DelayExecutor  — задержка на указанное количество секунд
//   - ScriptExecutor — вычисление HCL-выражения над переменными инстанса
//
// Manual-активности worker не берёт: их завершает оператор через CLI,
// публикуя node.completed напрямую.
//
// # Обработка узла
//
//  1. Получение узла (из очереди или polling)
//  2. Загрузка из БД, проверка состояния READY (EXECUTING — retry)
//  3. Перевод в EXECUTING
//  4. Выполнение через executor по ActivityType
//  5. Успех → COMPLETED, publish node.completed(COMPLETED)
//  6. Ошибка → FAILED, publish node.completed(FAILED);
//     retry запускает оператор или engine, worker сам не повторяет
//
// # Ошибки
//
// Пакет различает два уровня ошибок:
//   - Инфраструктурные (error от Execute) — контекст отменён, БД недоступна
//   - Логические (ExecutionResult.Error) — кривая конфигурация, выражение не вычислилось
//
// Оба уровня приводят узел в FAILED; решение о повторе принимается выше.
package worker
