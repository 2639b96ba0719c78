package service

import (
	"context"
	"sort"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LibraryService derives which tracks a user may access
type LibraryService struct {
	repo     OrderRepository
	cache    LibraryCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewLibraryService creates a new library service. cache may be nil.
func NewLibraryService(repo OrderRepository, cache LibraryCache, cacheTTL time.Duration) *LibraryService {
	return &LibraryService{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   util.ComponentLogger("library"),
	}
}

// PurchasedTracks returns every track of the user's COMPLETED orders, each
// track once, newest catalog entry first.
func (s *LibraryService) PurchasedTracks(ctx context.Context, userID uuid.UUID) ([]models.Track, error) {
	ctx, span := util.StartSpan(ctx, "LibraryService.PurchasedTracks")
	defer span.End()

	cacheable := s.cache != nil && s.cacheTTL > 0
	var gen int64
	if cacheable {
		tracks, hit, err := s.cache.GetLibrary(ctx, userID)
		switch {
		case err != nil:
			util.LibraryCacheLookups.WithLabelValues("error").Inc()
			s.logger.Warn("Library cache read failed", zap.String("user_id", userID.String()), zap.Error(err))
		case hit:
			util.LibraryCacheLookups.WithLabelValues("hit").Inc()
			return tracks, nil
		default:
			util.LibraryCacheLookups.WithLabelValues("miss").Inc()
		}

		// read before the store so a completion committed meanwhile bumps it
		gen, err = s.cache.LibraryGeneration(ctx, userID)
		if err != nil {
			s.logger.Warn("Library generation read failed", zap.String("user_id", userID.String()), zap.Error(err))
			cacheable = false
		}
	}

	rows, err := s.repo.GetCompletedOrderTracks(ctx, userID)
	if err != nil {
		return nil, err
	}
	tracks := dedupeTracks(rows)

	if cacheable {
		written, err := s.cache.SetLibrary(ctx, userID, gen, tracks, s.cacheTTL)
		switch {
		case err != nil:
			s.logger.Warn("Library cache write failed", zap.String("user_id", userID.String()), zap.Error(err))
		case !written:
			s.logger.Debug("Library changed while loading, not cached", zap.String("user_id", userID.String()))
		}
	}

	return tracks, nil
}

// dedupeTracks keeps one entry per track id, sorted by creation time descending
func dedupeTracks(rows []models.Track) []models.Track {
	seen := make(map[uuid.UUID]struct{}, len(rows))
	tracks := make([]models.Track, 0, len(rows))
	for _, t := range rows {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		tracks = append(tracks, t)
	}

	sort.SliceStable(tracks, func(i, j int) bool {
		if !tracks[i].CreatedAt.Equal(tracks[j].CreatedAt) {
			return tracks[i].CreatedAt.After(tracks[j].CreatedAt)
		}
		return tracks[i].ID.String() < tracks[j].ID.String()
	})
	return tracks
}
