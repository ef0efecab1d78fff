// internal/app/features/chart/types.go
package chart

import (
	"net/http"

	"github.com/dalemusser/rollchart/internal/app/system/chartview"
	"github.com/dalemusser/rollchart/internal/app/system/viewdata"
)

const (
	markPresent = "✓"
	markAbsent  = "✗"
)

// rowVM is one line of the attendance table.
type rowVM struct {
	Roll   int
	Name   string
	Absent bool
	Mark   string
}

// toastVM is the error toast shown for a failed fetch.
type toastVM struct {
	Stage   string
	Message string
}

type chartPageData struct {
	viewdata.BaseVM

	ClassID        string
	PagePath       string
	Dates          []string
	Periods        []string
	SelectedDate   string
	SelectedPeriod string
	Rows           []rowVM
	Loading        bool
	Ready          bool
	Toast          *toastVM
	Version        uint64
}

var failureText = map[chartview.Stage]string{
	chartview.StageDates:      "Could not load the dates for this class.",
	chartview.StageDateFilter: "Could not load the periods for the selected date.",
	chartview.StageAttendance: "Could not load attendance for the selected date and period.",
}

func newChartPageData(r *http.Request, s chartview.State) chartPageData {
	data := chartPageData{
		BaseVM:         viewdata.NewBaseVM(r, "Attendance", BackPath(s.ClassID)),
		ClassID:        s.ClassID,
		PagePath:       PagePath(s.ClassID),
		Dates:          s.Dates,
		Periods:        s.Periods,
		SelectedDate:   s.SelectedDate,
		SelectedPeriod: s.SelectedPeriod,
		Loading:        s.Loading,
		Ready:          s.Ready(),
		Version:        s.Version,
	}

	data.Rows = make([]rowVM, 0, len(s.Rows))
	for _, m := range s.Rows {
		mark := markPresent
		if m.Absent {
			mark = markAbsent
		}
		data.Rows = append(data.Rows, rowVM{Roll: m.Roll, Name: m.Name, Absent: m.Absent, Mark: mark})
	}

	if s.Failure != nil {
		msg, ok := failureText[s.Failure.Stage]
		if !ok {
			msg = "Something went wrong loading attendance."
		}
		data.Toast = &toastVM{Stage: string(s.Failure.Stage), Message: msg}
	}
	return data
}
