package billing

import (
	"time"

	"github.com/dineloop/dineloop/internal/domain/subscription"
	ierr "github.com/dineloop/dineloop/internal/errors"
	"github.com/dineloop/dineloop/internal/types"
)

// Period is a billing window derived either from the remote subscription
// object or, for one-time payments, from the calendar.
type Period struct {
	Start time.Time
	End   time.Time
	// DurationDays is the whole-day length, rounded up.
	DurationDays int
	// Accurate reports whether the duration falls inside the expected band
	// for the plan type. An out-of-band period is flagged for observability
	// but still used as-is; the billing provider is the source of truth for
	// money-moving periods.
	Accurate bool
}

// durationBands holds the tolerated period length per plan type, in days.
var durationBands = map[types.PlanType][2]int{
	types.PlanTypeMonthly:    {28, 31},
	types.PlanTypeSemiannual: {180, 186},
	types.PlanTypeAnnual:     {360, 370},
	types.PlanTypeTrial:      {28, 32},
}

// PeriodFromRemote derives the billing window from the remote subscription's
// own period fields. Start and end are returned unmodified even when the
// duration is out of band.
func PeriodFromRemote(remote *subscription.RemoteSubscription, plan types.PlanType) Period {
	start := remote.CurrentPeriodStart
	end := remote.CurrentPeriodEnd

	days := wholeDays(start, end)

	band, ok := durationBands[plan]
	accurate := ok && days >= band[0] && days <= band[1]

	return Period{
		Start:        start,
		End:          end,
		DurationDays: days,
		Accurate:     accurate,
	}
}

// PeriodForDirectPayment computes the billing window for a one-time payment
// with no remote subscription object behind it: start = now, end = now plus
// the plan's calendar offset.
func PeriodForDirectPayment(plan types.PlanType, now time.Time) (Period, error) {
	var end time.Time
	switch plan {
	case types.PlanTypeMonthly:
		end = now.AddDate(0, 1, 0)
	case types.PlanTypeSemiannual:
		end = now.AddDate(0, 6, 0)
	case types.PlanTypeAnnual:
		end = now.AddDate(1, 0, 0)
	case types.PlanTypeTrial:
		end = now.AddDate(0, 0, 30)
	default:
		return Period{}, ierr.NewError("cannot compute direct payment period").
			WithHintf("Plan type %s is not supported", plan).
			WithReportableDetails(map[string]any{
				"plan_type": plan,
			}).
			Mark(ierr.ErrInvalidPlanType)
	}

	return Period{
		Start:        now,
		End:          end,
		DurationDays: wholeDays(now, end),
		Accurate:     true,
	}, nil
}

// WithinBand reports whether an already-stored period falls inside the
// tolerance band for the plan.
func WithinBand(period Period, plan types.PlanType) bool {
	band, ok := durationBands[plan]
	if !ok {
		return false
	}
	days := wholeDays(period.Start, period.End)
	return days >= band[0] && days <= band[1]
}

// wholeDays returns the duration between start and end in days, rounded up.
func wholeDays(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}
