package visits

import (
	"context"
	"fmt"

	rediskit "github.com/trapline/visits-platform/pkg/redis"
)

// scopeDensity measures recordings-per-visit for the scope. Per-device
// samples are cached in Redis (the ingest listener invalidates them when
// new recordings land); cache errors fall through to fresh sampling.
func (s *Service) scopeDensity(ctx context.Context, scope Scope, win searchRange, types []string) density {
	if len(scope.DeviceIDs) == 0 {
		spans, err := s.store.ScopeSpans(ctx, scope, win.From, win.Until, types, s.cfg.DensitySampleSize)
		if err != nil {
			s.logger.Warn("Density sampling failed, assuming one recording per visit", "error", err)
			return density{}
		}
		return sampleDensity(spans, s.cfg.VisitGap())
	}

	var total density
	for _, deviceID := range scope.DeviceIDs {
		if d, ok := s.cachedDensity(ctx, deviceID); ok {
			total = total.add(d)
			continue
		}

		spans, err := s.store.DeviceSpans(ctx, deviceID, win.From, win.Until, types, s.cfg.DensitySampleSize)
		if err != nil {
			s.logger.Warn("Density sampling failed for device", "device", deviceID, "error", err)
			continue
		}
		d := sampleDensity(spans, s.cfg.VisitGap())
		total = total.add(d)
		s.storeDensity(ctx, deviceID, d)
	}
	return total
}

func (s *Service) cachedDensity(ctx context.Context, deviceID int64) (density, bool) {
	if s.cache == nil {
		return density{}, false
	}
	raw, err := s.cache.Get(ctx, rediskit.VisitDensityKey(deviceID))
	if err != nil {
		return density{}, false
	}
	var d density
	if _, err := fmt.Sscanf(raw, "%d:%d", &d.Recordings, &d.Visits); err != nil {
		return density{}, false
	}
	return d, true
}

func (s *Service) storeDensity(ctx context.Context, deviceID int64, d density) {
	if s.cache == nil {
		return
	}
	value := fmt.Sprintf("%d:%d", d.Recordings, d.Visits)
	if err := s.cache.Set(ctx, rediskit.VisitDensityKey(deviceID), value, s.cfg.DensityCacheTTL()); err != nil {
		s.logger.Warn("Failed to cache visit density", "device", deviceID, "error", err)
	}
}
