// internal/dealflow/machine.go
package dealflow

import (
	"time"

	"github.com/chanvault/chanvault-backend/internal/models"
)

// Rules carries the platform-dependent knobs the transition function needs.
type Rules struct {
	// OwnershipHold is the mandatory wait between agent access and primary
	// owner promotion on platforms that require it (YouTube).
	OwnershipHold time.Duration
}

// DefaultRules matches YouTube's 7-day manager-to-owner policy.
func DefaultRules() Rules {
	return Rules{OwnershipHold: 7 * 24 * time.Hour}
}

// Result reports what a transition did and which notification it calls for.
type Result struct {
	// Changed is false when the event was already applied; re-submission is
	// an accepted no-op so duplicate clicks and webhook retries are harmless.
	Changed bool

	// NoticeKey is the i18n key of the system message to post to the deal
	// chat, empty when nothing changed.
	NoticeKey    string
	NotifyBuyer  bool
	NotifySeller bool
}

// Apply validates the event against the deal's current flags and the actor's
// role, and mutates the deal in place on success. It is a pure function of
// its arguments: no clock reads, no I/O. The caller persists the deal and
// emits the notification described by the Result.
func Apply(d *models.Deal, evt Event, actor Actor, now time.Time, rules Rules) (Result, error) {
	if !authorized(evt.Kind, actor) {
		return Result{}, &UnauthorizedError{Actor: actor, Event: evt.Kind}
	}

	var res Result

	switch evt.Kind {
	case EventSellerAgrees:
		if d.SellerAgreed {
			return Result{}, nil
		}
		d.SellerAgreed = true
		d.SellerAgreedAt = &now
		res = Result{Changed: true, NoticeKey: "deal.msg.seller_agreed", NotifyBuyer: true}

	case EventFeePaid:
		if d.FeePaid {
			return Result{}, nil
		}
		if !d.SellerAgreed {
			return Result{}, &InvalidTransitionError{Status: d.Status, Event: evt.Kind}
		}
		// A party can only attest its own fee payment; the webhook path
		// (system) carries the payer role from the payment intent.
		if actor == ActorBuyer && evt.Payer != models.PayerBuyer {
			return Result{}, &UnauthorizedError{Actor: actor, Event: evt.Kind}
		}
		if actor == ActorSeller && evt.Payer != models.PayerSeller {
			return Result{}, &UnauthorizedError{Actor: actor, Event: evt.Kind}
		}
		d.FeePaid = true
		d.FeePaidAt = &now
		d.FeePaidBy = evt.Payer
		d.FeePaidMethod = evt.Method
		res = Result{Changed: true, NoticeKey: "deal.msg.fee_paid", NotifyBuyer: true, NotifySeller: true}

	case EventAgentAccessGranted:
		if d.AgentAccessGranted {
			return Result{}, nil
		}
		if !d.FeePaid {
			return Result{}, &InvalidTransitionError{Status: d.Status, Event: evt.Kind}
		}
		d.AgentAccessGranted = true
		d.AgentAccessGrantedAt = &now
		if evt.EvidenceKey != "" {
			d.AccessEvidenceKey = evt.EvidenceKey
		}
		if d.PlatformType.RequiresHold() {
			if d.RightsTimerStartedAt == nil {
				expires := now.Add(rules.OwnershipHold)
				d.RightsTimerStartedAt = &now
				d.RightsTimerExpiresAt = &expires
			}
			res = Result{Changed: true, NoticeKey: "deal.msg.access_granted_timer", NotifyBuyer: true, NotifySeller: true}
		} else {
			res = Result{Changed: true, NoticeKey: "deal.msg.access_granted", NotifyBuyer: true, NotifySeller: true}
		}

	case EventTimerElapsed:
		if d.TimerCompleted {
			return Result{}, nil
		}
		if !d.PlatformType.RequiresHold() || !d.AgentAccessGranted || d.RightsTimerExpiresAt == nil {
			return Result{}, &InvalidTransitionError{Status: d.Status, Event: evt.Kind}
		}
		if now.Before(*d.RightsTimerExpiresAt) {
			return Result{}, &InvalidTransitionError{Status: d.Status, Event: evt.Kind}
		}
		d.TimerCompleted = true
		d.TimerCompletedAt = &now
		res = Result{Changed: true, NoticeKey: "deal.msg.timer_complete", NotifySeller: true}

	case EventPromoteAgent:
		if d.AgentPromoted {
			return Result{}, nil
		}
		if !d.AgentAccessGranted {
			return Result{}, &InvalidTransitionError{Status: d.Status, Event: evt.Kind}
		}
		if d.PlatformType.RequiresHold() && !d.TimerCompleted {
			return Result{}, &InvalidTransitionError{Status: d.Status, Event: evt.Kind}
		}
		d.AgentPromoted = true
		d.AgentPromotedAt = &now
		res = Result{Changed: true, NoticeKey: "deal.msg.agent_promoted", NotifyBuyer: true, NotifySeller: true}

	case EventBuyerPaidSeller:
		if d.BuyerPaidSeller {
			return Result{}, nil
		}
		if !d.AgentPromoted {
			return Result{}, &InvalidTransitionError{Status: d.Status, Event: evt.Kind}
		}
		d.BuyerPaidSeller = true
		d.BuyerPaidSellerAt = &now
		res = Result{Changed: true, NoticeKey: "deal.msg.buyer_paid", NotifySeller: true}

	case EventSellerConfirmedPayment:
		if d.SellerConfirmedPayment {
			return Result{}, nil
		}
		if !d.BuyerPaidSeller {
			return Result{}, &InvalidTransitionError{Status: d.Status, Event: evt.Kind}
		}
		d.SellerConfirmedPayment = true
		d.SellerConfirmedPaymentAt = &now
		res = Result{Changed: true, NoticeKey: "deal.msg.completed", NotifyBuyer: true}

	default:
		return Result{}, &InvalidTransitionError{Status: d.Status, Event: evt.Kind}
	}

	d.Status = DeriveStatus(d)
	return res, nil
}

// DeriveStatus computes the display status purely from the flag-set. Two
// deals with identical flags always project the same label, whatever their
// history.
func DeriveStatus(d *models.Deal) models.DealStatus {
	switch {
	case d.SellerConfirmedPayment:
		return models.DealStatusCompleted
	case d.BuyerPaidSeller:
		return models.DealStatusBuyerPaid
	case d.AgentPromoted:
		return models.DealStatusPrimaryOwnerConfirmed
	case d.TimerCompleted:
		return models.DealStatusPromotionTimerComplete
	case d.AgentAccessGranted && d.PlatformType.RequiresHold():
		return models.DealStatusWaitingPromotionTimer
	case d.AgentAccessGranted:
		return models.DealStatusAgentAccessPending
	case d.FeePaid:
		return models.DealStatusFeePaid
	case d.SellerAgreed:
		return models.DealStatusTermsAgreed
	default:
		return models.DealStatusPending
	}
}
