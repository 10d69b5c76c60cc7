// Package orchestrator реализует Engine — координатор выполнения
// process instances.
//
// Engine получает события из RabbitMQ (новые инстансы, завершённые
// узлы, смерть веток), держит состояние активных инстансов в памяти
// (InstanceState) и двигает токены по графу процесса: выбор исходящих
// переходов делегируется engine.SelectTransitions, решения о слиянии
// шлюзов — engine.MergeCoordinator, учёт живых веток —
// engine.BranchTracker.
//
// Polling по БД служит fallback'ом на случай потери событий
// и подхватывает инстансы, созданные пока engine был выключен.
package orchestrator
