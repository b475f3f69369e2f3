package model

import (
	"fmt"
	"slices"
)

// JobStatus описывает статус заказа.
//
//	OPEN ──► IN_PROGRESS ──► COMPLETED
//	  │           │
//	  └───────────┴──────► CANCELLED
//
// COMPLETED и CANCELLED терминальные. Сервис сам выполняет только OPEN → IN_PROGRESS.
type JobStatus string

const (
	JobStatusOpen       JobStatus = "OPEN"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusOpen:       {JobStatusInProgress, JobStatusCancelled},
	JobStatusInProgress: {JobStatusCompleted, JobStatusCancelled},
}

// ParseJobStatus преобразует строку в JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	switch st {
	case JobStatusOpen, JobStatusInProgress, JobStatusCompleted, JobStatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// CanTransition сообщает, допустим ли переход from → to.
func CanTransition(from, to JobStatus) bool {
	return slices.Contains(jobTransitions[from], to)
}

// IsTerminal возвращает true для статусов без исходящих переходов.
func (s JobStatus) IsTerminal() bool {
	_, ok := jobTransitions[s]
	return !ok
}
