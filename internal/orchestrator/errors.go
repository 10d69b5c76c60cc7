package orchestrator

import "errors"

// Ошибки оркестрации.
var (
	// ErrInstanceNotFound — process instance не найден в БД.
	ErrInstanceNotFound = errors.New("process instance not found")

	// ErrDefinitionNotFound — определение процесса не найдено.
	ErrDefinitionNotFound = errors.New("process definition not found")

	// ErrInvalidDefinition — определение не прошло валидацию графа.
	ErrInvalidDefinition = errors.New("invalid process definition")

	// ErrInstanceAlreadyActive — инстанс уже обрабатывается.
	ErrInstanceAlreadyActive = errors.New("instance already being processed")

	// ErrInstanceNotRunning — инстанс не в статусе RUNNING.
	ErrInstanceNotRunning = errors.New("instance is not in RUNNING status")

	// ErrInstanceCancelled — инстанс удаляется; операция отклонена.
	ErrInstanceCancelled = errors.New("instance is cancelled")

	// ErrNodeNotFound — экземпляр узла не найден.
	ErrNodeNotFound = errors.New("node instance not found")

	// ErrNodeNotFailed — retry возможен только для узла в FAILED.
	ErrNodeNotFailed = errors.New("node is not in FAILED state")

	// ErrEngineStopped — engine остановлен.
	ErrEngineStopped = errors.New("engine stopped")
)
