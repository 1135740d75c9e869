package booking

// Reason names why a booking or cancellation was rejected. The zero value means approved.
type Reason string

const (
	PastDateTime         Reason = "PastDateTime"
	NoScheduleForDay     Reason = "NoScheduleForDay"
	OutsideBusinessHours Reason = "OutsideBusinessHours"
	MisalignedSlot       Reason = "MisalignedSlot"
	AppointmentConflict  Reason = "AppointmentConflict"
	BlackoutConflict     Reason = "BlackoutConflict"
	CancellationTooLate  Reason = "CancellationTooLate"
)

var reasonMessages = map[Reason]string{
	PastDateTime:         "cannot book an appointment in the past",
	NoScheduleForDay:     "the provider has no schedule for this day",
	OutsideBusinessHours: "the appointment falls outside business hours",
	MisalignedSlot:       "the requested time is not on the provider's slot grid",
	AppointmentConflict:  "the requested time overlaps an existing appointment",
	BlackoutConflict:     "the provider is unavailable at the requested time",
	CancellationTooLate:  "the cancellation window for this appointment has closed",
}

func (r Reason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return string(r)
}

// Stage is a step of the booking validation pipeline.
type Stage int

const (
	StageReceived Stage = iota
	StageTimeNormalized
	StageFutureChecked
	StageInBusinessHours
	StageGridAligned
	StageNoAppointmentConflict
	StageNoBlackout
	StageApproved
)

var stageNames = [...]string{
	"Received",
	"TimeNormalized",
	"FutureChecked",
	"InBusinessHours",
	"GridAligned",
	"NoAppointmentConflict",
	"NoBlackout",
	"Approved",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "Unknown"
	}
	return stageNames[s]
}
