// Package apisrv exposes the oracle's HTTP surface: event creation,
// announcement/attestation retrieval, sign-now, and parlay contract lookup.
package apisrv

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/btcoracle/ernest/pkg/attester"
	"github.com/btcoracle/ernest/pkg/cryptokeys"
	"github.com/btcoracle/ernest/pkg/noncealloc"
	"github.com/btcoracle/ernest/pkg/oracleerr"
	"github.com/btcoracle/ernest/pkg/oracleevent"
	"github.com/btcoracle/ernest/pkg/oraclemetrics"
	"github.com/btcoracle/ernest/pkg/parlay"
	"github.com/btcoracle/ernest/pkg/statssource"
	"github.com/btcoracle/ernest/pkg/store"
	"github.com/btcoracle/ernest/pkg/wireformat"
)

// oracleName is reported by GET /info, the Go analog of original_source's
// "Ernest Hashrate Oracle" OracleInfo.name.
const oracleName = "Ernest Statistics Oracle"

// singleEventNbDigits, singleEventPrecision are the fixed parameters every
// single numeric event uses, matching original_source's EventParams (every
// EventType maps to nb_digits=20).
const (
	singleEventNbDigits  = 20
	singleEventPrecision = 2
)

// Server wires the oracle's components behind one HTTP handler per verb:
// one struct holding every collaborator, one method per route.
type Server struct {
	log       *zap.Logger
	keys      *cryptokeys.KeyMaterial
	store     *store.Store
	allocator *noncealloc.Allocator
	attester  *attester.Attester
	stats     *statssource.Client
}

// New builds a Server and its mux.Router.
func New(log *zap.Logger, keys *cryptokeys.KeyMaterial, st *store.Store, allocator *noncealloc.Allocator, att *attester.Attester, stats *statssource.Client) *Server {
	return &Server{log: log, keys: keys, store: st, allocator: allocator, attester: att, stats: stats}
}

// Router builds the gorilla/mux router exposing the oracle's API routes
// plus the ambient /healthz and /metrics routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	api.HandleFunc("/list-events", s.handleListEvents).Methods(http.MethodGet)
	api.HandleFunc("/create", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/announcement", s.handleAnnouncement).Methods(http.MethodGet)
	api.HandleFunc("/attestation", s.handleAttestation).Methods(http.MethodGet)
	api.HandleFunc("/sign-event", s.handleSignEvent).Methods(http.MethodPost)
	api.HandleFunc("/parlay", s.handleParlay).Methods(http.MethodGet)
	api.HandleFunc("/events/available", s.handleAvailableEvents).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			s.log.Error("encode response", zap.Error(err))
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if oracleerr.KindOf(err) == oracleerr.Storage {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

type infoResponse struct {
	PubKey string `json:"pubkey"`
	Name   string `json:"name"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, infoResponse{PubKey: s.keys.PublicKeyHex(), Name: oracleName})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAvailableEvents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statssource.AvailableEventTypes())
}

type announcementView struct {
	AnnouncementSignature string   `json:"announcement_signature"`
	OraclePublicKey       string   `json:"oracle_public_key"`
	EventID               string   `json:"event_id"`
	MaturityEpoch         uint32   `json:"event_maturity_epoch"`
	Unit                  string   `json:"unit"`
	NbDigits              int32    `json:"nb_digits"`
	Precision             int32    `json:"precision"`
	Nonces                []string `json:"nonces"`
}

func toAnnouncementView(ann *wireformat.OracleAnnouncement) announcementView {
	nonces := make([]string, len(ann.OracleEvent.Nonces))
	for i, n := range ann.OracleEvent.Nonces {
		nonces[i] = hex.EncodeToString(n[:])
	}
	return announcementView{
		AnnouncementSignature: hex.EncodeToString(ann.AnnouncementSignature[:]),
		OraclePublicKey:       hex.EncodeToString(ann.OraclePublicKey[:]),
		EventID:               ann.OracleEvent.EventID,
		MaturityEpoch:         ann.OracleEvent.EventMaturityEpoch,
		Unit:                  ann.OracleEvent.Descriptor.Unit,
		NbDigits:              ann.OracleEvent.Descriptor.NbDigits,
		Precision:             ann.OracleEvent.Descriptor.Precision,
		Nonces:                nonces,
	}
}

type createRequest struct {
	Kind               string               `json:"kind"`
	EventType          string               `json:"event_type,omitempty"`
	Maturity           uint32               `json:"maturity,omitempty"`
	Parameters         []parlayParameterDTO `json:"parameters,omitempty"`
	CombinationMethod  string               `json:"combination_method,omitempty"`
	MaxNormalizedValue uint64               `json:"max_normalized_value,omitempty"`
	EventMaturityEpoch uint32               `json:"event_maturity_epoch,omitempty"`
}

type parlayParameterDTO struct {
	DataType         string  `json:"data_type"`
	Threshold        float64 `json:"threshold"`
	Range            float64 `json:"range"`
	IsAboveThreshold bool    `json:"is_above_threshold"`
	Transformation   string  `json:"transformation"`
	Weight           float64 `json:"weight"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, oracleerr.Wrap(oracleerr.InvalidParam, "decode create request", err))
		return
	}

	switch req.Kind {
	case "single":
		s.createSingle(w, r, req)
	case "parlay":
		s.createParlay(w, r, req)
	default:
		s.writeError(w, oracleerr.New(oracleerr.InvalidParam, "kind must be \"single\" or \"parlay\""))
	}
}

func (s *Server) createSingle(w http.ResponseWriter, r *http.Request, req createRequest) {
	et, err := statssource.ParseEventType(req.EventType)
	if err != nil {
		s.writeError(w, oracleerr.Wrap(oracleerr.InvalidParam, "parse event_type", err))
		return
	}

	eventID := uuid.NewString()
	built, err := oracleevent.Build(s.keys, s.allocator, oracleevent.Params{
		EventID:       eventID,
		NbDigits:      singleEventNbDigits,
		Precision:     singleEventPrecision,
		Unit:          string(et),
		MaturityEpoch: req.Maturity,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.persistAnnouncement(r.Context(), built, string(et), string(et)); err != nil {
		s.writeError(w, err)
		return
	}

	oraclemetrics.EventsCreated.Inc()
	s.writeJSON(w, http.StatusOK, toAnnouncementView(&built.Announcement))
}

func (s *Server) createParlay(w http.ResponseWriter, r *http.Request, req createRequest) {
	if len(req.Parameters) == 0 {
		s.writeError(w, oracleerr.New(oracleerr.InvalidParam, "parlay contract requires at least one parameter"))
		return
	}
	method, err := parlay.ParseCombinationMethod(req.CombinationMethod)
	if err != nil {
		s.writeError(w, oracleerr.Wrap(oracleerr.InvalidParam, "parse combination_method", err))
		return
	}
	maxNormalized := req.MaxNormalizedValue
	if maxNormalized == 0 {
		maxNormalized = 10000
	}

	contract := parlay.Contract{CombinationMethod: method, MaxNormalizedValue: maxNormalized}
	paramRows := make([]store.ParlayParameterRow, 0, len(req.Parameters))
	for _, p := range req.Parameters {
		transformation, err := parlay.ParseTransformationFunction(p.Transformation)
		if err != nil {
			s.writeError(w, oracleerr.Wrap(oracleerr.InvalidParam, "parse transformation", err))
			return
		}
		contract.Parameters = append(contract.Parameters, parlay.Parameter{
			DataType: p.DataType, Threshold: p.Threshold, Range: p.Range,
			IsAboveThreshold: p.IsAboveThreshold, Transformation: transformation, Weight: p.Weight,
		})
		paramRows = append(paramRows, store.ParlayParameterRow{
			DataType: p.DataType, Threshold: p.Threshold, Range: p.Range,
			IsAboveThreshold: p.IsAboveThreshold, Transformation: string(transformation), Weight: p.Weight,
		})
	}

	eventID := uuid.NewString()
	contract.ID = eventID
	nbDigits := int32(contract.NbDigits())

	built, err := oracleevent.Build(s.keys, s.allocator, oracleevent.Params{
		EventID:       eventID,
		NbDigits:      nbDigits,
		Precision:     singleEventPrecision,
		Unit:          "parlay",
		MaturityEpoch: req.EventMaturityEpoch,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	// The ParlayContract insert happens before the announcement insert so
	// readers never observe a parlay event without its contract row.
	if err := s.store.SaveParlayContract(r.Context(), store.ParlayContractRow{
		ID: eventID, CombinationMethod: string(method), MaxNormalizedValue: maxNormalized, Parameters: paramRows,
	}); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.persistAnnouncement(r.Context(), built, "parlay contract", "parlay"); err != nil {
		s.writeError(w, err)
		return
	}

	oraclemetrics.EventsCreated.Inc()
	s.writeJSON(w, http.StatusOK, toAnnouncementView(&built.Announcement))
}

func (s *Server) persistAnnouncement(ctx context.Context, built *oracleevent.Built, name, eventType string) error {
	serialized, err := built.Announcement.OracleEvent.Serialize()
	if err != nil {
		return oracleerr.Wrap(oracleerr.Crypto, "serialize announcement", err)
	}
	nonces := make([]store.NewEventNonce, len(built.NonceIndexes))
	for i, idx := range built.NonceIndexes {
		nonces[i] = store.NewEventNonce{Index: idx, Nonce: built.Announcement.OracleEvent.Nonces[i]}
	}
	return s.store.SaveEventAndNonces(ctx, built.Announcement.OracleEvent.EventID, built.Announcement.AnnouncementSignature, serialized, name, nonces, eventType)
}

func (s *Server) handleAnnouncement(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("event_id")
	if eventID == "" {
		s.writeError(w, oracleerr.New(oracleerr.InvalidParam, "event_id is required"))
		return
	}
	ev, err := s.store.GetEvent(r.Context(), eventID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	oracleEvent, err := wireformat.ParseOracleEvent(ev.OracleEvent)
	if err != nil {
		s.writeError(w, oracleerr.Wrap(oracleerr.Storage, "parse stored oracle event", err))
		return
	}
	ann := wireformat.OracleAnnouncement{
		AnnouncementSignature: ev.AnnouncementSignature,
		OraclePublicKey:       s.keys.PublicKey(),
		OracleEvent:           *oracleEvent,
	}
	s.writeJSON(w, http.StatusOK, toAnnouncementView(&ann))
}

type attestationView struct {
	EventID         string   `json:"event_id"`
	OraclePublicKey string   `json:"oracle_public_key"`
	Outcomes        []string `json:"outcomes"`
	Signatures      []string `json:"signatures"`
}

func (s *Server) handleAttestation(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("event_id")
	if eventID == "" {
		s.writeError(w, oracleerr.New(oracleerr.InvalidParam, "event_id is required"))
		return
	}
	ev, err := s.store.GetEvent(r.Context(), eventID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var outcomes []string
	var sigs []string
	for _, n := range ev.Nonces {
		if n.Signature == nil {
			s.writeError(w, oracleerr.New(oracleerr.Unsigned, "event is not yet signed"))
			return
		}
		outcomes = append(outcomes, *n.Outcome)
		sigs = append(sigs, hex.EncodeToString(n.Signature[:]))
	}
	s.writeJSON(w, http.StatusOK, attestationView{
		EventID: eventID, OraclePublicKey: s.keys.PublicKeyHex(), Outcomes: outcomes, Signatures: sigs,
	})
}

type signEventRequest struct {
	EventID string `json:"event_id"`
}

func (s *Server) handleSignEvent(w http.ResponseWriter, r *http.Request) {
	var req signEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, oracleerr.Wrap(oracleerr.InvalidParam, "decode sign-event request", err))
		return
	}

	ev, err := s.store.GetEvent(r.Context(), req.EventID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	oracleEvent, err := wireformat.ParseOracleEvent(ev.OracleEvent)
	if err != nil {
		s.writeError(w, oracleerr.Wrap(oracleerr.Storage, "parse stored oracle event", err))
		return
	}
	if ev.IsEnum {
		s.writeError(w, oracleerr.New(oracleerr.UnsupportedDescriptor, "cannot sign enum descriptor"))
		return
	}

	et, err := statssource.ParseEventType(oracleEvent.Descriptor.Unit)
	if err != nil {
		s.writeError(w, oracleerr.Wrap(oracleerr.InvalidParam, "event unit is not a known event type", err))
		return
	}
	outcome, err := s.stats.SampleOutcome(r.Context(), et)
	if err != nil {
		s.writeError(w, err)
		return
	}

	attestation, err := s.attester.Attest(r.Context(), req.EventID, outcome)
	if err != nil {
		s.writeError(w, err)
		return
	}
	oraclemetrics.AttestationsSigned.WithLabelValues("single").Inc()

	sigs := make([]string, len(attestation.Signatures))
	for i, sig := range attestation.Signatures {
		sigs[i] = hex.EncodeToString(sig[:])
	}
	s.writeJSON(w, http.StatusOK, attestationView{
		EventID: attestation.EventID, OraclePublicKey: s.keys.PublicKeyHex(), Outcomes: attestation.Outcomes, Signatures: sigs,
	})
}

type parlayContractView struct {
	ID                 string               `json:"id"`
	CombinationMethod  string               `json:"combination_method"`
	MaxNormalizedValue uint64               `json:"max_normalized_value"`
	Parameters         []parlayParameterDTO `json:"parameters"`
}

func (s *Server) handleParlay(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("event_id")
	if eventID == "" {
		s.writeError(w, oracleerr.New(oracleerr.InvalidParam, "event_id is required"))
		return
	}
	row, err := s.store.GetParlayContract(r.Context(), eventID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	params := make([]parlayParameterDTO, len(row.Parameters))
	for i, p := range row.Parameters {
		params[i] = parlayParameterDTO{
			DataType: p.DataType, Threshold: p.Threshold, Range: p.Range,
			IsAboveThreshold: p.IsAboveThreshold, Transformation: p.Transformation, Weight: p.Weight,
		}
	}
	s.writeJSON(w, http.StatusOK, parlayContractView{
		ID: row.ID, CombinationMethod: row.CombinationMethod, MaxNormalizedValue: row.MaxNormalizedValue, Parameters: params,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]map[string]any, len(events))
	for i, e := range events {
		views[i] = map[string]any{
			"event_id":   e.EventID,
			"name":       e.Name,
			"is_enum":    e.IsEnum,
			"created_at": e.CreatedAt,
			"signed":     len(e.Nonces) > 0 && e.Nonces[0].Signature != nil,
		}
	}
	s.writeJSON(w, http.StatusOK, views)
}
