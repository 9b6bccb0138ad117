package session

import "strings"

// ReportMode is the Success-Report policy attached to an OutgoingMessage
// (spec §4.6, configured per Connection via xport.Options.SuccessReportMode
// and overridable per template via the Success-Report header).
type ReportMode int

const (
	// ReportNone never requests a success REPORT.
	ReportNone ReportMode = iota
	// ReportAutomatic requests one after every chunk as well as at the
	// end of transfer (IncomingMessage.Continued()/Completed()).
	ReportAutomatic
	// ReportFragmented likewise requests one after every chunk, plus
	// the final report.
	ReportFragmented
	// ReportFinal is the RFC 4975 "yes" value: exactly one final report.
	ReportFinal
)

func parseSuccessReport(v string) ReportMode {
	switch strings.ToLower(v) {
	case "yes":
		return ReportFinal
	case "no":
		return ReportNone
	default:
		return ReportNone
	}
}

// FailureMode is the Failure-Report policy (RFC 4975 §9's "yes"/"no"/
// "partial").
type FailureMode int

const (
	FailureYes FailureMode = iota
	FailureNo
	FailurePartial
)

func parseFailureReport(v string) FailureMode {
	switch strings.ToLower(v) {
	case "no":
		return FailureNo
	case "partial":
		return FailurePartial
	default:
		return FailureYes
	}
}

func (m ReportMode) String() string {
	switch m {
	case ReportAutomatic:
		return "automatic"
	case ReportFragmented:
		return "fragmented"
	case ReportFinal:
		return "final"
	default:
		return "none"
	}
}

func (m FailureMode) String() string {
	switch m {
	case FailureNo:
		return "no"
	case FailurePartial:
		return "partial"
	default:
		return "yes"
	}
}
