package rides

import (
	"context"

	"github.com/example/ride-hailing/internal/apperr"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/storage"
)

type FeedbackRequest struct {
	RideID  string `json:"rideId"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// SubmitFeedback rates the captain of a completed ride, once per ride. The
// rating reaches the captain's average in the same update that closes feedback.
func (s *Service) SubmitFeedback(ctx context.Context, userID string, req FeedbackRequest) (ride *models.Ride, err error) {
	defer s.record("feedback", &err)

	if req.Rating < 1 || req.Rating > 5 {
		return nil, apperr.Invalid(map[string]string{"rating": "must be between 1 and 5"})
	}
	ride, err = s.load(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if !ride.HasRider(userID) {
		return nil, apperr.New(apperr.Forbidden, "not a rider on this ride")
	}
	if ride.Status != models.StatusCompleted {
		return nil, apperr.New(apperr.IllegalStateTransition, "ride is not completed")
	}
	if ride.FeedbackSubmitted {
		return nil, apperr.New(apperr.IllegalStateTransition, "feedback already submitted")
	}

	ride, err = s.transition(ctx, req.RideID,
		storage.RideCond{Statuses: []models.RideStatus{models.StatusCompleted}, FeedbackOpen: true, RiderID: userID},
		storage.RideChange{Feedback: &storage.Feedback{Rating: req.Rating, Comment: req.Comment}},
		"feedback already submitted")
	if err != nil {
		return nil, err
	}

	if ride.CaptainID != "" {
		if c, err := s.Store.GetCaptain(ctx, ride.CaptainID); err != nil {
			s.logger().Warn("captain reload failed", "captain_id", ride.CaptainID, "error", err)
		} else {
			s.Notifier.ToCaptain(c.ID, models.EventStatsUpdated, models.StatsFor(c, s.now()))
		}
	}
	s.after(ctx, "ride.rated", ride, userID)
	return ride, nil
}
