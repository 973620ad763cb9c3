// internal/dealflow/events.go
package dealflow

import (
	"github.com/chanvault/chanvault-backend/internal/models"
)

// EventKind names a deal transition.
type EventKind string

const (
	EventSellerAgrees           EventKind = "seller_agrees"
	EventFeePaid                EventKind = "fee_paid"
	EventAgentAccessGranted     EventKind = "agent_access_granted"
	EventTimerElapsed           EventKind = "timer_elapsed"
	EventPromoteAgent           EventKind = "promote_agent_primary_owner"
	EventBuyerPaidSeller        EventKind = "buyer_paid_seller"
	EventSellerConfirmedPayment EventKind = "seller_confirmed_payment"
)

// Actor is the role submitting an event. ActorSystem covers the payment
// webhook reconciliation and the background timer sweep.
type Actor string

const (
	ActorBuyer  Actor = "buyer"
	ActorSeller Actor = "seller"
	ActorAdmin  Actor = "admin"
	ActorSystem Actor = "system"
)

// Event is one inbound transition request with its payload.
type Event struct {
	Kind        EventKind
	Payer       models.PayerRole // fee_paid only
	Method      string           // fee_paid only
	EvidenceKey string           // agent_access_granted only
}

func SellerAgrees() Event {
	return Event{Kind: EventSellerAgrees}
}

func FeePaid(payer models.PayerRole, method string) Event {
	return Event{Kind: EventFeePaid, Payer: payer, Method: method}
}

func AgentAccessGranted(evidenceKey string) Event {
	return Event{Kind: EventAgentAccessGranted, EvidenceKey: evidenceKey}
}

func TimerElapsed() Event {
	return Event{Kind: EventTimerElapsed}
}

func PromoteAgent() Event {
	return Event{Kind: EventPromoteAgent}
}

func BuyerPaidSeller() Event {
	return Event{Kind: EventBuyerPaidSeller}
}

func SellerConfirmedPayment() Event {
	return Event{Kind: EventSellerConfirmedPayment}
}

// allowedActors is the authorization table: which roles may submit which
// event. Party identity (this buyer, not any buyer) is checked by the caller.
var allowedActors = map[EventKind][]Actor{
	EventSellerAgrees:           {ActorSeller},
	EventFeePaid:                {ActorBuyer, ActorSeller, ActorSystem},
	EventAgentAccessGranted:     {ActorSeller},
	EventTimerElapsed:           {ActorSystem},
	EventPromoteAgent:           {ActorAdmin},
	EventBuyerPaidSeller:        {ActorBuyer},
	EventSellerConfirmedPayment: {ActorSeller},
}

func authorized(kind EventKind, actor Actor) bool {
	for _, a := range allowedActors[kind] {
		if a == actor {
			return true
		}
	}
	return false
}
