package models

// Requests for the read API. Defined in domain for consistency and reuse.

type LatestRequest struct {
	Symbol   string `query:"symbol" json:"symbol"`
	Exchange string `query:"exchange" json:"exchange" default:"binance" validate:"omitempty,oneof=binance"`
}

type ScoresRequest struct {
	Symbol string `query:"symbol" json:"symbol"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=5000"`
}

type OutliersRequest struct {
	Limit int `query:"limit" json:"limit" default:"20" validate:"gte=1,lte=500"`
}

type TrendsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	Hours  int    `query:"hours" json:"hours" default:"24" validate:"gte=1,lte=720"`
}

type SummariesRequest struct {
	Limit int `query:"limit" json:"limit" default:"10" validate:"gte=1,lte=100"`
}
