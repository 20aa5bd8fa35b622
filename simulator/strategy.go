// Package simulator drives a dispatch chain with scripted carrier behavior.
// It is used by scenario tests and demos to exercise full cascade runs
// without real carriers.
package simulator

import (
	"math/rand"
	"time"

	"github.com/fluxfret/cascade/core/model"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

// Response is one carrier's scripted reaction to an offer.
type Response struct {
	Accept        bool
	ProposedPrice *float64
	RefusalReason string
}

// Strategy decides how a carrier reacts to an offer. The bool is false when
// the carrier never responds and the attempt must time out.
type Strategy interface {
	Respond(attempt model.DispatchAttempt) (Response, bool)
}

// AlwaysAccept accepts every offer, optionally proposing a price.
type AlwaysAccept struct {
	Price *float64
}

func (s AlwaysAccept) Respond(model.DispatchAttempt) (Response, bool) {
	return Response{Accept: true, ProposedPrice: s.Price}, true
}

// AlwaysRefuse refuses every offer with the given reason.
type AlwaysRefuse struct {
	Reason string
}

func (s AlwaysRefuse) Respond(model.DispatchAttempt) (Response, bool) {
	return Response{RefusalReason: s.Reason}, true
}

// NeverRespond lets every offer expire.
type NeverRespond struct{}

func (NeverRespond) Respond(model.DispatchAttempt) (Response, bool) {
	return Response{}, false
}

// AcceptAtPosition accepts only the offer at the given cascade position and
// refuses the rest.
type AcceptAtPosition struct {
	Position int
	Price    *float64
}

func (s AcceptAtPosition) Respond(a model.DispatchAttempt) (Response, bool) {
	if a.Position == s.Position {
		return Response{Accept: true, ProposedPrice: s.Price}, true
	}
	return Response{RefusalReason: "position mismatch"}, true
}

// RandomResponse accepts with the given probability, never responds with
// the drop rate, and refuses otherwise.
type RandomResponse struct {
	AcceptRate float64
	DropRate   float64
}

func (s RandomResponse) Respond(model.DispatchAttempt) (Response, bool) {
	r := rng.Float64()
	if r < s.DropRate {
		return Response{}, false
	}
	if r < s.DropRate+s.AcceptRate {
		return Response{Accept: true}, true
	}
	return Response{RefusalReason: "simulated refusal"}, true
}
