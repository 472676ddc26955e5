package models

// Requests for the operator HTTP endpoints. Defined in domain for
// consistency and reuse.

type ResolveRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=approve reject"`
}

type DecisionsRequest struct {
	Instrument string `query:"instrument" json:"instrument" validate:"required"`
	Limit      int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
	From       string `query:"from" json:"from"`
	To         string `query:"to" json:"to"`
}

type IndicatorsRequest struct {
	Instrument string `query:"instrument" json:"instrument" validate:"required"`
}
