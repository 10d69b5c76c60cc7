package worker

import "errors"

// Ошибки воркера.
var (
	// ErrNodeNotFound — экземпляр узла не найден в БД.
	ErrNodeNotFound = errors.New("node instance not found")

	// ErrNodeNotReady — узел не в состоянии READY/EXECUTING.
	ErrNodeNotReady = errors.New("node is not ready for execution")

	// ErrManualActivity — manual-активность завершается оператором, не воркером.
	ErrManualActivity = errors.New("manual activity is completed by an operator")

	// ErrUnknownActivityType — нет executor'а для данного типа активности.
	ErrUnknownActivityType = errors.New("unknown activity type")

	// ErrDefinitionMismatch — определение узла не найдено в определении процесса.
	ErrDefinitionMismatch = errors.New("node definition not found in process definition")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)
