package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"forge-supply/internal/domain"
	"forge-supply/internal/storage"
	"forge-supply/internal/supply"
)

const (
	welcomeText = "Welcome to the Forge Supply API. Visit /forge/supply to get token supply data."

	msgSupplyError         = "Error fetching supply information."
	msgHistoryDisabled     = "Snapshot history is not enabled."
	msgHistoryError        = "Error fetching snapshot history."
	msgNoSnapshot          = "No snapshot recorded yet."
	msgInvalidLimit        = "Invalid limit."
	msgTimeseriesDisabled  = "Supply timeseries is not enabled."
	msgTimeseriesError     = "Error fetching supply timeseries."
	msgInvalidTimeRange    = "Invalid time range."
	msgTooManyRequests     = "Too many requests."
	defaultHistoryLimit    = 20
	maxHistoryLimit        = 500
	defaultTimeseriesRange = 24 * time.Hour
	maxTimeseriesRange     = 31 * 24 * time.Hour
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SnapshotResponse is one entry of the history endpoint.
type SnapshotResponse struct {
	SnapshotID        string `json:"snapshotId"`
	TakenAt           string `json:"takenAt"`
	Trigger           string `json:"trigger"`
	Slot              int64  `json:"slot"`
	TotalSupply       string `json:"totalSupply"`
	LockedSupply      string `json:"lockedSupply"`
	CirculatingSupply string `json:"circulatingSupply"`
	LockedAccounts    int    `json:"lockedAccounts"`
}

// HistoryResponse is the JSON body of GET /forge/supply/history.
type HistoryResponse struct {
	Mint      string             `json:"mint"`
	Snapshots []SnapshotResponse `json:"snapshots"`
}

// TimeseriesPointResponse is one sample of the timeseries endpoint.
type TimeseriesPointResponse struct {
	Timestamp         string `json:"timestamp"`
	Trigger           string `json:"trigger"`
	Slot              int64  `json:"slot"`
	TotalSupply       string `json:"totalSupply"`
	LockedSupply      string `json:"lockedSupply"`
	CirculatingSupply string `json:"circulatingSupply"`
}

// TimeseriesResponse is the JSON body of GET /forge/supply/timeseries.
type TimeseriesResponse struct {
	Mint   string                    `json:"mint"`
	From   int64                     `json:"from"`
	To     int64                     `json:"to"`
	Points []TimeseriesPointResponse `json:"points"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(welcomeText))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleSupply reports total and circulating supply. Every upstream failure
// yields the same opaque 500 body.
func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	report, ok := s.compute(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.SupplyResponse())
}

// handleLocked reports the authority's token accounts and their balances.
func (s *Server) handleLocked(w http.ResponseWriter, r *http.Request) {
	report, ok := s.compute(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.LockedResponse())
}

func (s *Server) compute(w http.ResponseWriter, r *http.Request) (*supply.Report, bool) {
	report, err := s.reporter.Compute(r.Context())
	if err != nil {
		var supplyErr *supply.Error
		if errors.As(err, &supplyErr) {
			s.logger.Printf("Error fetching supply information (kind=%s op=%s): %v", supplyErr.Kind, supplyErr.Op, err)
		} else {
			s.logger.Printf("Error fetching supply information: %v", err)
		}
		writeError(w, http.StatusInternalServerError, msgSupplyError)
		return nil, false
	}
	return report, true
}

// handleHistory lists recorded snapshots, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, msgHistoryDisabled)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, msgInvalidLimit)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	snaps, err := s.snapshots.List(r.Context(), s.mint, limit)
	if err != nil {
		s.logger.Printf("Error fetching snapshot history: %v", err)
		writeError(w, http.StatusInternalServerError, msgHistoryError)
		return
	}

	resp := HistoryResponse{
		Mint:      s.mint,
		Snapshots: make([]SnapshotResponse, 0, len(snaps)),
	}
	for _, snap := range snaps {
		resp.Snapshots = append(resp.Snapshots, snapshotResponse(snap))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleLatest returns the most recent recorded snapshot.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, msgHistoryDisabled)
		return
	}

	snap, err := s.snapshots.Latest(r.Context(), s.mint)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgNoSnapshot)
		return
	}
	if err != nil {
		s.logger.Printf("Error fetching latest snapshot: %v", err)
		writeError(w, http.StatusInternalServerError, msgHistoryError)
		return
	}

	writeJSON(w, http.StatusOK, snapshotResponse(snap))
}

// handleTimeseries returns recorded supply samples between from and to
// (unix milliseconds, inclusive). Defaults to the last 24 hours.
func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	if s.timeseries == nil {
		writeError(w, http.StatusServiceUnavailable, msgTimeseriesDisabled)
		return
	}

	from, to, ok := s.timeRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgInvalidTimeRange)
		return
	}

	points, err := s.timeseries.GetByTimeRange(r.Context(), s.mint, from, to)
	if err != nil {
		s.logger.Printf("Error fetching supply timeseries: %v", err)
		writeError(w, http.StatusInternalServerError, msgTimeseriesError)
		return
	}

	resp := TimeseriesResponse{
		Mint:   s.mint,
		From:   from,
		To:     to,
		Points: make([]TimeseriesPointResponse, 0, len(points)),
	}
	for _, p := range points {
		decimals := uint8(p.Decimals)
		resp.Points = append(resp.Points, TimeseriesPointResponse{
			Timestamp:         formatMillis(p.TimestampMs),
			Trigger:           string(p.Trigger),
			Slot:              p.Slot,
			TotalSupply:       formatBaseUnits(p.TotalSupply, decimals),
			LockedSupply:      formatBaseUnits(p.LockedSupply, decimals),
			CirculatingSupply: formatBaseUnits(p.CirculatingSupply, decimals),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// timeRange parses the from/to query parameters. The range must be ordered
// and no longer than maxTimeseriesRange.
func (s *Server) timeRange(r *http.Request) (from, to int64, ok bool) {
	q := r.URL.Query()

	to = s.now().UnixMilli()
	if raw := q.Get("to"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, false
		}
		to = n
	}

	from = to - defaultTimeseriesRange.Milliseconds()
	if raw := q.Get("from"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, false
		}
		from = n
	}

	if from > to || to-from > maxTimeseriesRange.Milliseconds() {
		return 0, 0, false
	}
	return from, to, true
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

func snapshotResponse(snap *domain.SupplySnapshot) SnapshotResponse {
	decimals := uint8(snap.Decimals)
	return SnapshotResponse{
		SnapshotID:        snap.SnapshotID,
		TakenAt:           formatMillis(snap.TakenAt),
		Trigger:           string(snap.Trigger),
		Slot:              snap.Slot,
		TotalSupply:       formatBaseUnits(snap.TotalSupply, decimals),
		LockedSupply:      formatBaseUnits(snap.LockedSupply, decimals),
		CirculatingSupply: formatBaseUnits(snap.CirculatingSupply, decimals),
		LockedAccounts:    snap.LockedAccounts,
	}
}

// formatBaseUnits renders a stored base-unit integer string. Values that do not
// parse are returned unchanged.
func formatBaseUnits(raw string, decimals uint8) string {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	return supply.FormatAmount(n, decimals)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
