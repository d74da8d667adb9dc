package service

import "example.com/internal/models"

func transitionState(rec *models.Negotiation, to models.State) {
	updated := *rec
	updated.State = to
	*rec = updated
}

func create() models.Negotiation {
	return models.Negotiation{ID: "1", State: "request-sent"}
}

func shortcut(rec *models.Negotiation) {
	rec.State = "invalidated" // want "состояние переговоров меняется только в transitionState"
}

func viaValue(rec models.Negotiation) models.Negotiation {
	rec.State, rec.ID = "invalidated", "2" // want "состояние переговоров меняется только в transitionState"
	return rec
}

func other(o *models.Other) {
	o.State = "anything"
}

func closure(rec *models.Negotiation) func() {
	return func() {
		rec.State = "request-received" // want "состояние переговоров меняется только в transitionState"
	}
}
