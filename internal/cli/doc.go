// Package cli реализует команды консольной утилиты gateflow.
//
// Команды работают напрямую с PostgreSQL и RabbitMQ через cli.Deps:
// definition deploy/list/show управляют версиями описаний процессов,
// instance start/list/show/delete — экземплярами, complete/retry —
// ручными и упавшими узлами, kill-branch публикует гибель ветки.
//
// RabbitMQ необязателен: без него команды лишь сохраняют состояние в
// базе, а engine и worker подхватывают изменения через polling.
package cli
