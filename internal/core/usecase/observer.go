package usecase

import (
	"time"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
	"github.com/kirillkom/safety-report-tracker/internal/core/ports"
)

type nopObserver struct{}

func (nopObserver) ObserveUpload(string, time.Duration)                {}
func (nopObserver) ObservePoll(string)                                 {}
func (nopObserver) SessionStarted()                                    {}
func (nopObserver) SessionFinished(domain.SessionState, time.Duration) {}
func (nopObserver) ObserveSinkFailure(string)                          {}
func (nopObserver) ObserveMalformedReport(string)                      {}

func observerOrNop(observer ports.WorkflowObserver) ports.WorkflowObserver {
	if observer == nil {
		return nopObserver{}
	}
	return observer
}
