package models

import "strings"

// TicketStatus статус тикета
type TicketStatus string

const (
	TicketOpen       TicketStatus = "OPEN"
	TicketAssigned   TicketStatus = "ASSIGNED"
	TicketInProgress TicketStatus = "IN_PROGRESS"
	TicketPending    TicketStatus = "PENDING"
	TicketResolved   TicketStatus = "RESOLVED"
	TicketClosed     TicketStatus = "CLOSED"
)

// TicketStatuses все статусы тикета в порядке жизненного цикла
var TicketStatuses = []TicketStatus{
	TicketOpen, TicketAssigned, TicketInProgress, TicketPending, TicketResolved, TicketClosed,
}

// ParseTicketStatus разбирает статус тикета (регистр не учитывается)
func ParseTicketStatus(value string) (TicketStatus, bool) {
	s := TicketStatus(strings.ToUpper(strings.TrimSpace(value)))
	return s, s.Valid()
}

// Valid проверяет, что значение входит в перечисление
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketOpen, TicketAssigned, TicketInProgress, TicketPending, TicketResolved, TicketClosed:
		return true
	}
	return false
}

// CanTransitionTo описывает граф переходов тикета.
// CLOSED достижим только из RESOLVED; из RESOLVED можно вернуть тикет в работу.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	switch s {
	case TicketOpen:
		return next == TicketAssigned
	case TicketAssigned:
		return next == TicketInProgress || next == TicketResolved
	case TicketInProgress:
		return next == TicketPending || next == TicketResolved
	case TicketPending:
		return next == TicketInProgress || next == TicketResolved
	case TicketResolved:
		return next == TicketClosed || next == TicketInProgress
	case TicketClosed:
		return false
	}
	return false
}

// IsActive тикет в работе (учитывается в нагрузке инженера и на карте сайтов)
func (s TicketStatus) IsActive() bool {
	switch s {
	case TicketOpen, TicketAssigned, TicketInProgress, TicketPending:
		return true
	case TicketResolved, TicketClosed:
		return false
	}
	return false
}

// ActiveTicketStatuses статусы, для которых IsActive, в порядке жизненного цикла
func ActiveTicketStatuses() []TicketStatus {
	out := make([]TicketStatus, 0, len(TicketStatuses))
	for _, st := range TicketStatuses {
		if st.IsActive() {
			out = append(out, st)
		}
	}
	return out
}

// TicketCategory категория проблемы
type TicketCategory string

const (
	CategoryTechnical    TicketCategory = "TECHNICAL"
	CategoryNonTechnical TicketCategory = "NON_TECHNICAL"
)

var TicketCategories = []TicketCategory{CategoryTechnical, CategoryNonTechnical}

func ParseTicketCategory(value string) (TicketCategory, bool) {
	c := TicketCategory(strings.ToUpper(strings.TrimSpace(value)))
	return c, c.Valid()
}

func (c TicketCategory) Valid() bool {
	switch c {
	case CategoryTechnical, CategoryNonTechnical:
		return true
	}
	return false
}

// AlarmStatus статус аварии
type AlarmStatus string

const (
	AlarmOpen         AlarmStatus = "OPEN"
	AlarmAcknowledged AlarmStatus = "ACKNOWLEDGED"
	AlarmScheduled    AlarmStatus = "SCHEDULED"
	AlarmResolved     AlarmStatus = "RESOLVED"
	AlarmClosed       AlarmStatus = "CLOSED"
)

var AlarmStatuses = []AlarmStatus{
	AlarmOpen, AlarmAcknowledged, AlarmScheduled, AlarmResolved, AlarmClosed,
}

func ParseAlarmStatus(value string) (AlarmStatus, bool) {
	s := AlarmStatus(strings.ToUpper(strings.TrimSpace(value)))
	return s, s.Valid()
}

func (s AlarmStatus) Valid() bool {
	switch s {
	case AlarmOpen, AlarmAcknowledged, AlarmScheduled, AlarmResolved, AlarmClosed:
		return true
	}
	return false
}

// CanTransitionTo описывает граф переходов аварии
func (s AlarmStatus) CanTransitionTo(next AlarmStatus) bool {
	switch s {
	case AlarmOpen:
		return next == AlarmAcknowledged || next == AlarmScheduled || next == AlarmResolved
	case AlarmAcknowledged:
		return next == AlarmScheduled || next == AlarmResolved
	case AlarmScheduled:
		return next == AlarmResolved
	case AlarmResolved:
		return next == AlarmClosed
	case AlarmClosed:
		return false
	}
	return false
}

// NeedsPlan авария еще не взята в работу и учитывается в списке сайтов без плана
func (s AlarmStatus) NeedsPlan() bool {
	switch s {
	case AlarmOpen, AlarmAcknowledged:
		return true
	case AlarmScheduled, AlarmResolved, AlarmClosed:
		return false
	}
	return false
}

// AlarmStatusesNeedingPlan статусы, для которых NeedsPlan
func AlarmStatusesNeedingPlan() []AlarmStatus {
	out := make([]AlarmStatus, 0, len(AlarmStatuses))
	for _, st := range AlarmStatuses {
		if st.NeedsPlan() {
			out = append(out, st)
		}
	}
	return out
}

// AlarmCategory категория аварии из выгрузки
type AlarmCategory string

const (
	AlarmCellDown       AlarmCategory = "CELL_DOWN"
	AlarmZeroPayload    AlarmCategory = "ZERO_PAYLOAD"
	AlarmPowerIssue     AlarmCategory = "POWER_ISSUE"
	AlarmTransportIssue AlarmCategory = "TRANSPORT_ISSUE"
	AlarmOther          AlarmCategory = "OTHER"
)

var AlarmCategories = []AlarmCategory{
	AlarmCellDown, AlarmZeroPayload, AlarmPowerIssue, AlarmTransportIssue, AlarmOther,
}

func ParseAlarmCategory(value string) (AlarmCategory, bool) {
	c := AlarmCategory(strings.ToUpper(strings.TrimSpace(value)))
	return c, c.Valid()
}

func (c AlarmCategory) Valid() bool {
	switch c {
	case AlarmCellDown, AlarmZeroPayload, AlarmPowerIssue, AlarmTransportIssue, AlarmOther:
		return true
	}
	return false
}

// PlanStatus статус дневного плана
type PlanStatus string

const (
	PlanDraft     PlanStatus = "DRAFT"
	PlanSubmitted PlanStatus = "SUBMITTED"
	PlanApproved  PlanStatus = "APPROVED"
	PlanRejected  PlanStatus = "REJECTED"
)

var PlanStatuses = []PlanStatus{PlanDraft, PlanSubmitted, PlanApproved, PlanRejected}

func ParsePlanStatus(value string) (PlanStatus, bool) {
	s := PlanStatus(strings.ToUpper(strings.TrimSpace(value)))
	return s, s.Valid()
}

func (s PlanStatus) Valid() bool {
	switch s {
	case PlanDraft, PlanSubmitted, PlanApproved, PlanRejected:
		return true
	}
	return false
}

// CanTransitionTo описывает граф переходов плана.
// Отклоненный план можно исправить и отправить повторно.
func (s PlanStatus) CanTransitionTo(next PlanStatus) bool {
	switch s {
	case PlanDraft:
		return next == PlanSubmitted
	case PlanSubmitted:
		return next == PlanApproved || next == PlanRejected
	case PlanRejected:
		return next == PlanSubmitted
	case PlanApproved:
		return false
	}
	return false
}

// IsReviewable план дошел до диспетчера (учитывается в комплаенсе)
func (s PlanStatus) IsReviewable() bool {
	switch s {
	case PlanSubmitted, PlanApproved, PlanRejected:
		return true
	case PlanDraft:
		return false
	}
	return false
}
