package server

import (
	"github.com/sig-0/fxsnap/ingest"
	"github.com/sig-0/fxsnap/storage/types"
)

type RatesResponse struct {
	Results []*types.RateRecord `json:"results"`
}

type ConvertResponse struct {
	From   types.Currency `json:"from"`
	To     types.Currency `json:"to"`
	Amount float64        `json:"amount"`
	Result float64        `json:"result"`
}

type SyncResponse struct {
	SyncID    string         `json:"sync_id"`
	State     ingest.State   `json:"state"`
	Error     string         `json:"error,omitempty"`
	Events    []ingest.Event `json:"events"`
	Code      ingest.Code    `json:"code"`
	Committed int            `json:"committed"`
	Forced    bool           `json:"forced"`
	Empty     bool           `json:"empty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
