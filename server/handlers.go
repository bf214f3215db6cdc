package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sig-0/fxsnap/convert"
	"github.com/sig-0/fxsnap/ingest"
	"github.com/sig-0/fxsnap/query"
	"github.com/sig-0/fxsnap/storage/types"
)

var (
	errUnableToFetchRates = errors.New("unable to fetch rates")
	errUnableToConvert    = errors.New("unable to convert")
	errSyncDisabled       = errors.New("sync is disabled")

	errInvalidID     = errors.New("invalid id")
	errInvalidOrder  = errors.New("invalid order (must be currency, rate, updated or id)")
	errInvalidDesc   = errors.New("invalid desc (must be a boolean)")
	errInvalidAmount = errors.New("invalid amount (must be a finite number)")
	errInvalidForce  = errors.New("invalid force (must be a boolean)")
)

func (s *Server) ListRates(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	resp, err := s.queries.Do(r.Context(), &query.Request{
		Kind: query.KindList,
		List: q,
	})
	if err != nil {
		s.logger.Debug(
			"unable to list rates",
			"err", err,
		)

		writeError(w, http.StatusInternalServerError, errUnableToFetchRates)

		return
	}

	writeJSON(w, http.StatusOK, &RatesResponse{
		Results: resp.Records,
	})
}

func (s *Server) GetRate(w http.ResponseWriter, r *http.Request) {
	currency, err := types.ParseCurrency(chi.URLParam(r, "currency"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	resp, err := s.queries.Do(r.Context(), &query.Request{
		Kind:     query.KindGet,
		Currency: currency,
	})
	if err != nil {
		if errors.Is(err, query.ErrRateNotFound) {
			writeError(w, http.StatusNotFound, err)

			return
		}

		s.logger.Debug(
			"unable to fetch rate",
			"currency", currency,
			"err", err,
		)

		writeError(w, http.StatusInternalServerError, errUnableToFetchRates)

		return
	}

	writeJSON(w, http.StatusOK, resp.Record)
}

func (s *Server) Convert(w http.ResponseWriter, r *http.Request) {
	from, err := types.ParseCurrency(chi.URLParam(r, "from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	to, err := types.ParseCurrency(chi.URLParam(r, "to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	amount, err := parseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	resp, err := s.queries.Do(r.Context(), &query.Request{
		Kind:   query.KindConvert,
		From:   from,
		To:     to,
		Amount: amount,
	})

	switch {
	case err == nil:
	case errors.Is(err, convert.ErrUnknownCurrency):
		writeError(w, http.StatusNotFound, err)

		return
	case errors.Is(err, convert.ErrDivisionUndefined):
		writeError(w, http.StatusUnprocessableEntity, err)

		return
	default:
		s.logger.Debug(
			"unable to convert",
			"from", from,
			"to", to,
			"err", err,
		)

		writeError(w, http.StatusInternalServerError, errUnableToConvert)

		return
	}

	writeJSON(w, http.StatusOK, &ConvertResponse{
		From:   from,
		To:     to,
		Amount: amount,
		Result: resp.Amount,
	})
}

func (s *Server) Sync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, errSyncDisabled)

		return
	}

	force, err := parseBool(r.URL.Query().Get("force"), errInvalidForce)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	res := s.syncer.Sync(r.Context(), force, s.sink)

	resp := &SyncResponse{
		SyncID:    res.SyncID,
		State:     res.State,
		Events:    res.Events,
		Code:      res.Code(),
		Committed: res.Committed,
		Forced:    res.Forced,
		Empty:     res.Empty,
	}

	if res.Err != nil {
		resp.Error = res.Err.Error()
	}

	status := http.StatusOK

	switch res.State {
	case ingest.StateUnavailable:
		status = http.StatusServiceUnavailable
	case ingest.StateError:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, resp)
}

// parseListQuery parses the list filters and ordering
func parseListQuery(r *http.Request) (*types.ListQuery, error) {
	var (
		values = r.URL.Query()
		q      = &types.ListQuery{}
	)

	if v := strings.TrimSpace(values.Get("id")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errInvalidID
		}

		id := types.RecordID(n)
		q.ID = &id
	}

	if v := strings.TrimSpace(values.Get("currency")); v != "" {
		c, err := types.ParseCurrency(v)
		if err != nil {
			return nil, err
		}

		q.Currency = &c
	}

	if v := strings.TrimSpace(values.Get("provider")); v != "" {
		q.Provider = &v
	}

	if v := strings.TrimSpace(values.Get("order")); v != "" {
		order := types.Order(strings.ToLower(v))
		if !order.Valid() {
			return nil, errInvalidOrder
		}

		q.OrderBy = order
	}

	desc, err := parseBool(values.Get("desc"), errInvalidDesc)
	if err != nil {
		return nil, err
	}

	q.Descending = desc

	return q, nil
}

// parseAmount parses the conversion amount, defaulting to 1
func parseAmount(raw string) (float64, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 1, nil
	}

	amount, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, errInvalidAmount
	}

	return amount, nil
}

// parseBool parses the optional boolean query param, defaulting to false
func parseBool(raw string, invalidErr error) (bool, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return false, nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, invalidErr
	}

	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // Fine to ignore
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := &ErrorResponse{
		Error: err.Error(),
	}

	writeJSON(w, status, resp)
}
