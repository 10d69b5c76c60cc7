package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProcessInstance — экземпляр выполнения процесса.
//
// Создаётся при запуске определения процесса (вручную или внешней
// системой). Ветки одного экземпляра выполняются конкурентно; шлюзы
// существуют именно для координации конкурентно прибывающих веток.
type ProcessInstance struct {
	// ID — уникальный идентификатор экземпляра.
	ID uuid.UUID `json:"id"`

	// DefinitionID — ссылка на определение процесса.
	DefinitionID uuid.UUID `json:"definition_id"`

	// Version — версия определения, которая выполняется.
	Version int `json:"version"`

	// Status — текущий статус.
	Status InstanceStatus `json:"status"`

	// Variables — переменные процесса. Контекст для вычисления
	// условий переходов; обновляются завершающимися активностями.
	Variables map[string]any `json:"variables,omitempty"`

	// StartedAt — время старта.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt — время завершения. Nil, пока процесс выполняется.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки при FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// NewProcessInstance создаёт экземпляр в статусе RUNNING.
func NewProcessInstance(def *ProcessDefinition, variables map[string]any) *ProcessInstance {
	if variables == nil {
		variables = make(map[string]any)
	}
	now := time.Now()
	return &ProcessInstance{
		ID:           uuid.New(),
		DefinitionID: def.ID,
		Version:      def.Version,
		Status:       InstanceStatusRunning,
		Variables:    variables,
		StartedAt:    now,
		CreatedAt:    now,
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если процесс ещё не завершён.
func (p *ProcessInstance) Duration() time.Duration {
	if p.FinishedAt == nil {
		return 0
	}
	return p.FinishedAt.Sub(p.StartedAt)
}

// IsFinished возвращает true, если процесс завершён.
func (p *ProcessInstance) IsFinished() bool {
	return p.Status.IsTerminal()
}

// MarkCompleted переводит процесс в COMPLETED.
func (p *ProcessInstance) MarkCompleted() {
	now := time.Now()
	p.Status = InstanceStatusCompleted
	p.FinishedAt = &now
}

// MarkFailed переводит процесс в FAILED с ошибкой.
func (p *ProcessInstance) MarkFailed(err string) {
	now := time.Now()
	p.Status = InstanceStatusFailed
	p.FinishedAt = &now
	p.Error = err
}

// MarkRunning возвращает процесс из FAILED в RUNNING (retry упавшего
// узла). Время завершения и ошибка сбрасываются.
func (p *ProcessInstance) MarkRunning() {
	p.Status = InstanceStatusRunning
	p.FinishedAt = nil
	p.Error = ""
}

// MarkCancelled переводит процесс в CANCELLED (удаление оператором).
func (p *ProcessInstance) MarkCancelled() {
	now := time.Now()
	p.Status = InstanceStatusCancelled
	p.FinishedAt = &now
}
