package model

import "strings"

// BrafLifecycle is a BRAF lifecycle transition.
type BrafLifecycle uint8

const (
	BrafUnspecified BrafLifecycle = iota
	BrafClosed
	BrafClosedCancelled
	BrafClosedCancelledAborted
	BrafClosedCancelledError
	BrafClosedCancelledExited
	BrafClosedCancelledObsolete
	BrafClosedCancelledTerminated
	BrafCompleted
	BrafCompletedFailed
	BrafCompletedSuccess
	BrafOpen
	BrafOpenNotRunning
	BrafOpenNotRunningAssigned
	BrafOpenNotRunningReserved
	BrafOpenNotRunningSuspendedAssigned
	BrafOpenNotRunningSuspendedReserved
	BrafOpenRunning
	BrafOpenRunningInProgress
	BrafOpenRunningSuspended

	brafCount
)

var brafNames = [brafCount]string{
	"Unspecified",
	"Closed",
	"Closed.Cancelled",
	"Closed.Cancelled.Aborted",
	"Closed.Cancelled.Error",
	"Closed.Cancelled.Exited",
	"Closed.Cancelled.Obsolete",
	"Closed.Cancelled.Terminated",
	"Completed",
	"Completed.Failed",
	"Completed.Success",
	"Open",
	"Open.NotRunning",
	"Open.NotRunning.Assigned",
	"Open.NotRunning.Reserved",
	"Open.NotRunning.Suspended.Assigned",
	"Open.NotRunning.Suspended.Reserved",
	"Open.Running",
	"Open.Running.InProgress",
	"Open.Running.Suspended",
}

// Valid reports whether l is a defined transition.
func (l BrafLifecycle) Valid() bool { return l < brafCount }

// String returns the XES name of the transition.
func (l BrafLifecycle) String() string {
	if !l.Valid() {
		return "Unknown"
	}
	return brafNames[l]
}

// StandardLifecycle is a standard XES lifecycle transition.
type StandardLifecycle uint8

const (
	StandardUnspecified StandardLifecycle = iota
	StandardAssign
	StandardAteAbort
	StandardAutoskip
	StandardComplete
	StandardManualSkip
	StandardPiAbort
	StandardReAssign
	StandardResume
	StandardSchedule
	StandardStart
	StandardSuspend
	StandardUnknown
	StandardWithdraw

	standardCount
)

var standardNames = [standardCount]string{
	"unspecified", "assign", "ate_abort", "autoskip", "complete", "manualskip", "pi_abort",
	"reassign", "resume", "schedule", "start", "suspend", "unknown", "withdraw",
}

// Valid reports whether l is a defined transition.
func (l StandardLifecycle) Valid() bool { return l < standardCount }

// String returns the XES name of the transition.
func (l StandardLifecycle) String() string {
	if !l.Valid() {
		return "unknown"
	}
	return standardNames[l]
}

// SoftwareEventType classifies software events (method calls, exceptions).
type SoftwareEventType uint8

const (
	SoftwareUnspecified SoftwareEventType = iota
	SoftwareCall
	SoftwareReturn
	SoftwareThrows
	SoftwareHandle
	SoftwareCalling
	SoftwareReturning

	softwareCount
)

var softwareNames = [softwareCount]string{
	"unspecified", "call", "return", "throws", "handle", "calling", "returning",
}

// Valid reports whether t is a defined software event type.
func (t SoftwareEventType) Valid() bool { return t < softwareCount }

// String returns the lower-case name of the type.
func (t SoftwareEventType) String() string {
	if !t.Valid() {
		return "unknown"
	}
	return softwareNames[t]
}

// ParseLifecycle maps an XES lifecycle:transition value to a lifecycle value.
// Standard transitions are matched case-insensitively; BRAF names exactly.
func ParseLifecycle(s string) (Value, bool) {
	lower := strings.ToLower(s)
	for i, name := range standardNames {
		if name == lower {
			return StandardLifecycle(i), true
		}
	}
	for i, name := range brafNames {
		if name == s {
			return BrafLifecycle(i), true
		}
	}
	return nil, false
}

// ParseSoftwareEventType maps a lower-case name to a SoftwareEventType.
func ParseSoftwareEventType(s string) (SoftwareEventType, bool) {
	for i, name := range softwareNames {
		if name == s {
			return SoftwareEventType(i), true
		}
	}
	return 0, false
}
