package service

import (
	"context"

	apperrors "dispatchd/internal/errors"
	"dispatchd/internal/models"

	"github.com/sirupsen/logrus"
)

// FallbackSelector picks the next identity to try after retries on the
// current one are exhausted. Fallback only moves between identities that
// present the same outward sender identifier, so the recipient never sees a
// different "from".
//
// The round-robin cap counts distinct identities (not providers): the
// exclusion set below is keyed by identity id, so the cap is defined on the
// same axis.
type FallbackSelector struct {
	store         EventStore
	maxIdentities int
	logger        *logrus.Logger
}

func NewFallbackSelector(store EventStore, maxIdentities int, logger *logrus.Logger) *FallbackSelector {
	return &FallbackSelector{
		store:         store,
		maxIdentities: maxIdentities,
		logger:        logger,
	}
}

// Next returns the best eligible candidate for the message, or ok=false when
// the identity cap is reached or no candidate shares the failed identity's
// identifier. Candidates already present in the message's event history are
// excluded by the store query; lowest credential priority wins, identity id
// breaks ties.
func (s *FallbackSelector) Next(ctx context.Context, messageID, failedIdentityID string) (*models.FallbackCandidate, bool, error) {
	attempted, err := s.store.IdentitiesAttempted(ctx, messageID)
	if err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to count attempted identities")
	}

	if len(attempted) >= s.maxIdentities {
		s.logger.WithFields(logrus.Fields{
			"message_id": messageID,
			"attempted":  len(attempted),
			"cap":        s.maxIdentities,
		}).Info("Identity cap reached, not searching for fallback")
		return nil, false, nil
	}

	candidates, err := s.store.FallbackCandidates(ctx, messageID, failedIdentityID)
	if err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to query fallback candidates")
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}

	return &candidates[0], true, nil
}
