// README: Pricing service computes fare estimates from the latest settings.
package pricing

import (
	"context"
	"log/slog"
	"math"

	"wasla/internal/types"
)

// SettingSource abstracts the store so tests can inject fixed settings.
type SettingSource interface {
	Latest(ctx context.Context) (Setting, bool, error)
}

type Service struct {
	settings SettingSource
	log      *slog.Logger
}

func NewService(settings SettingSource, log *slog.Logger) *Service {
	return &Service{settings: settings, log: log}
}

// EstimateFare computes max(minimum, base + km*perKm + min*perMinute) rounded
// to the nearest whole dinar. Nil or non-finite inputs are treated as absent;
// without a distance there is no estimate. A failed settings read falls back
// to the defaults rather than failing the ride creation.
func (s *Service) EstimateFare(ctx context.Context, distanceKm, durationMin *float64) *types.Money {
	dKm := finiteOrNil(distanceKm)
	dur := finiteOrNil(durationMin)
	if dKm == nil {
		return nil
	}

	base := float64(DefaultBaseFare)
	perKm := float64(DefaultPricePerKm)
	perMin := float64(DefaultPricePerMinute)
	minimum := float64(DefaultMinimumFare)

	st, ok, err := s.settings.Latest(ctx)
	if err != nil {
		s.log.Warn("pricing read failed, using defaults", "err", err)
	} else if ok {
		base = st.BaseFare
		perKm = st.PricePerKm
		if st.PricePerMinute != nil {
			perMin = *st.PricePerMinute
		}
		if st.MinimumFare != nil {
			minimum = *st.MinimumFare
		}
	}

	fare := base + *dKm*perKm
	if dur != nil {
		fare += *dur * perMin
	}
	fare = math.Max(minimum, fare)

	m := types.IQD(int64(math.Round(fare)))
	return &m
}

func finiteOrNil(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}
