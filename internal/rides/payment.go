package rides

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/example/ride-hailing/internal/apperr"
	"github.com/example/ride-hailing/internal/fare"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/payments"
	"github.com/example/ride-hailing/internal/storage"
)

type VerifyPaymentRequest struct {
	RideID    string `json:"rideId"`
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

type PaymentCompletedEvent struct {
	RideID    string  `json:"rideId"`
	PaymentID string  `json:"paymentId"`
	Fare      float64 `json:"fare"`
}

var ongoing = []models.RideStatus{models.StatusOngoing}

// CreatePaymentOrder opens a gateway order for the fare of an ongoing,
// unpaid ride and remembers its id on the ride.
func (s *Service) CreatePaymentOrder(ctx context.Context, userID, rideID string) (order payments.Order, err error) {
	defer s.record("payment_order", &err)

	r, err := s.load(ctx, rideID)
	if err != nil {
		return payments.Order{}, err
	}
	if !r.HasRider(userID) {
		return payments.Order{}, apperr.New(apperr.Forbidden, "not a rider on this ride")
	}
	if r.Status != models.StatusOngoing || r.PaymentStatus == models.PaymentCompleted {
		return payments.Order{}, apperr.New(apperr.IllegalStateTransition, "ride is not awaiting payment")
	}
	if s.Gateway == nil {
		return payments.Order{}, apperr.New(apperr.ExternalServiceUnavailable, "payments are not configured")
	}

	// Each attempt gets its own key: a key reused after the order below is
	// cancelled would replay the cancelled intent.
	receipt := "ride_" + r.ID
	order, err = s.Gateway.CreateOrder(ctx, fare.MinorUnits(r.Fare), s.currency(), receipt, receipt+"_"+uuid.NewString())
	if err != nil {
		s.logger().Error("payment order failed", "ride_id", r.ID, "error", err)
		return payments.Order{}, apperr.Wrap(apperr.ExternalServiceUnavailable, "payment provider unavailable", err)
	}

	_, err = s.transition(ctx, rideID,
		storage.RideCond{Statuses: ongoing, PaymentPending: true, RiderID: userID},
		storage.RideChange{OrderID: order.ID},
		"ride is not awaiting payment")
	if err != nil {
		if cerr := s.Gateway.CancelOrder(ctx, order.ID); cerr != nil {
			s.logger().Warn("payment order cancel failed", "ride_id", r.ID, "order_id", order.ID, "error", cerr)
		}
		return payments.Order{}, err
	}
	s.logger().Info("payment order created", "ride_id", r.ID, "order_id", order.ID, "amount", order.Amount)
	return order, nil
}

// VerifyPayment checks the gateway signature and marks the ride paid.
func (s *Service) VerifyPayment(ctx context.Context, userID string, req VerifyPaymentRequest) (ride *models.Ride, err error) {
	defer s.record("payment_verify", &err)

	fields := map[string]string{}
	for name, v := range map[string]string{
		"rideId": req.RideID, "orderId": req.OrderID, "paymentId": req.PaymentID, "signature": req.Signature,
	} {
		if strings.TrimSpace(v) == "" {
			fields[name] = "is required"
		}
	}
	if len(fields) > 0 {
		return nil, apperr.Invalid(fields)
	}

	ride, err = s.load(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if !ride.HasRider(userID) {
		return nil, apperr.New(apperr.Forbidden, "not a rider on this ride")
	}
	if ride.OrderID != "" && ride.OrderID != req.OrderID {
		return nil, apperr.Invalid(map[string]string{"orderId": "does not match the ride's payment order"})
	}
	if s.Signer == nil || !s.Signer.Verify(req.OrderID, req.PaymentID, req.Signature) {
		s.logger().Warn("payment signature mismatch", "ride_id", ride.ID, "order_id", req.OrderID)
		return nil, apperr.New(apperr.PaymentSignatureMismatch, "invalid payment signature")
	}

	ride, err = s.transition(ctx, req.RideID,
		storage.RideCond{Statuses: ongoing, PaymentPending: true, RiderID: userID},
		storage.RideChange{
			PaymentStatus: models.PaymentCompleted,
			OrderID:       req.OrderID,
			PaymentID:     req.PaymentID,
			Signature:     req.Signature,
		},
		"ride is not awaiting payment")
	if err != nil {
		return nil, err
	}

	ev := PaymentCompletedEvent{RideID: ride.ID, PaymentID: ride.PaymentID, Fare: ride.Fare}
	for _, id := range ride.Riders() {
		s.Notifier.ToUser(id, models.EventPaymentCompleted, ev)
	}
	if ride.CaptainID != "" {
		s.Notifier.ToCaptain(ride.CaptainID, models.EventPaymentCompleted, ev)
	}
	s.after(ctx, "ride.paid", ride, userID)
	return ride, nil
}

func (s *Service) currency() string {
	if s.Currency == "" {
		return "INR"
	}
	return s.Currency
}
