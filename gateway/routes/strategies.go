package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mycelix/gateway/auth"
	"mycelix/native/economics"
	"mycelix/storage"
)

// strategyView is the wire shape for both catalog entries and stored
// customs. Detail fields are populated only on single-strategy reads.
type strategyView struct {
	ID                    string             `json:"id"`
	Name                  string             `json:"name"`
	Description           string             `json:"description,omitempty"`
	Category              string             `json:"category,omitempty"`
	PaymentModel          string             `json:"payment_model,omitempty"`
	MinPaymentWei         string             `json:"min_payment_wei"`
	ProtocolFeeBps        uint32             `json:"protocol_fee_bps"`
	SupportsFreeListening bool               `json:"supports_free_listening,omitempty"`
	SupportsTips          bool               `json:"supports_tips,omitempty"`
	SupportsSubscriptions bool               `json:"supports_subscriptions,omitempty"`
	Builtin               bool               `json:"builtin"`
	Hash                  string             `json:"hash,omitempty"`
	Modules               []string           `json:"modules,omitempty"`
	Pricing               *economics.Pricing `json:"pricing,omitempty"`
	Offers                []economics.Offer  `json:"offers,omitempty"`
	Splits                []economics.Split  `json:"splits,omitempty"`
	CreatedAt             *time.Time         `json:"created_at,omitempty"`
}

func builtinView(entry economics.CatalogEntry) strategyView {
	minPayment := entry.MinPaymentWei
	if minPayment == "" {
		minPayment = "0"
	}
	return strategyView{
		ID:                    entry.ID,
		Name:                  entry.Name,
		Description:           entry.Description,
		Category:              entry.Category,
		PaymentModel:          string(entry.PaymentModel),
		MinPaymentWei:         minPayment,
		ProtocolFeeBps:        entry.ProtocolFeeBps,
		SupportsFreeListening: entry.SupportsFreeListening,
		SupportsTips:          entry.SupportsTips,
		SupportsSubscriptions: entry.SupportsSubscriptions,
		Builtin:               true,
	}
}

func (s *Server) storedView(cfg storage.StrategyConfig, detail bool) strategyView {
	minPayment := cfg.MinPaymentWei
	if minPayment == "" {
		minPayment = "0"
	}
	view := strategyView{
		ID:             cfg.ID,
		Name:           cfg.Name,
		Category:       cfg.Category,
		PaymentModel:   cfg.PaymentModel,
		MinPaymentWei:  minPayment,
		ProtocolFeeBps: cfg.ProtocolFeeBps,
		Hash:           cfg.Hash,
	}
	created := cfg.CreatedAt
	if !created.IsZero() {
		view.CreatedAt = &created
	}
	if !detail {
		return view
	}
	strategy, err := economics.ParseStrategy(cfg.Payload)
	if err != nil {
		s.logger.Warn("stored strategy payload invalid", "strategy", cfg.ID, "error", err)
		return view
	}
	view.Modules = strategy.Modules
	view.Pricing = &strategy.Pricing
	view.Offers = strategy.Offers
	view.Splits = strategy.Splits
	return view
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	entries := s.catalog.Entries()
	stored, err := s.store.ListStrategies(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	views := make([]strategyView, 0, len(entries)+len(stored))
	for _, entry := range entries {
		views = append(views, builtinView(entry))
	}
	for _, cfg := range stored {
		views = append(views, s.storedView(cfg, false))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if entry, ok := s.catalog.Lookup(id); ok {
		writeJSON(w, http.StatusOK, builtinView(entry))
		return
	}
	cfg, err := s.store.GetStrategy(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.storedView(*cfg, true))
}

type createStrategyRequest struct {
	Name           string            `json:"name"`
	Category       string            `json:"category,omitempty"`
	PaymentModel   string            `json:"payment_model,omitempty"`
	Modules        []string          `json:"modules"`
	Pricing        economics.Pricing `json:"pricing"`
	Offers         []economics.Offer `json:"offers"`
	Splits         []economics.Split `json:"splits"`
	MinPaymentWei  string            `json:"min_payment_wei,omitempty"`
	ProtocolFeeBps uint32            `json:"protocol_fee_bps,omitempty"`
	Hash           string            `json:"hash,omitempty"`
	AdminSignature string            `json:"admin_signature,omitempty"`
}

// handleCreateStrategy stores a custom strategy under a fresh uuid, so
// customs can never shadow catalog slugs. Creation requires the admin key;
// a supplied hash must match the canonical payload and a supplied
// admin_signature must be a recoverable signature over that hash.
func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	principal, err := s.verifier.Verify(r.Context(), auth.Request{APIKey: r.Header.Get(auth.HeaderAPIKey)})
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	if !principal.Admin {
		writeError(w, http.StatusForbidden, codeForbidden, errors.New("strategy creation requires the admin key"))
		return
	}
	body, err := s.readRequestBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	var req createStrategyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, codeValidation, errors.New("name is required"))
		return
	}
	model := ""
	if trimmed := strings.TrimSpace(req.PaymentModel); trimmed != "" {
		parsed, err := economics.ParsePaymentModel(trimmed)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, err)
			return
		}
		model = string(parsed)
	}

	strategy := &economics.Strategy{
		Modules:        req.Modules,
		Pricing:        req.Pricing,
		Offers:         req.Offers,
		Splits:         req.Splits,
		MinPaymentWei:  strings.TrimSpace(req.MinPaymentWei),
		ProtocolFeeBps: req.ProtocolFeeBps,
		Hash:           strings.TrimSpace(req.Hash),
		AdminSignature: strings.TrimSpace(req.AdminSignature),
	}
	if err := strategy.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	if err := strategy.SealHash(); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	if strategy.AdminSignature != "" {
		sig, err := auth.DecodeSignature(strategy.AdminSignature)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("invalid admin_signature: %w", err))
			return
		}
		if _, err := auth.RecoverPersonal(strategy.Hash, sig); err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("invalid admin_signature: %w", err))
			return
		}
	}

	strategy.ID = uuid.NewString()
	payload, err := json.Marshal(strategy)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, errors.New("encode strategy payload"))
		return
	}
	cfg := &storage.StrategyConfig{
		ID:             strategy.ID,
		Name:           strings.TrimSpace(req.Name),
		Category:       strings.TrimSpace(req.Category),
		PaymentModel:   model,
		Payload:        string(payload),
		Hash:           strategy.Hash,
		AdminSignature: strategy.AdminSignature,
		MinPaymentWei:  strategy.MinPaymentWei,
		ProtocolFeeBps: strategy.ProtocolFeeBps,
	}
	if err := s.store.CreateStrategy(r.Context(), cfg); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.logger.Info("strategy stored", "strategy", cfg.ID, "name", cfg.Name, "hash", cfg.Hash)
	writeJSON(w, http.StatusCreated, s.storedView(*cfg, true))
}

type previewRequest struct {
	AmountWei string            `json:"amount_wei"`
	Splits    []economics.Split `json:"splits,omitempty"`
}

type previewResponse struct {
	StrategyID     string         `json:"strategy_id"`
	GrossWei       string         `json:"gross_wei"`
	ProtocolFeeBps uint32         `json:"protocol_fee_bps"`
	ProtocolFeeWei string         `json:"protocol_fee_wei"`
	NetWei         string         `json:"net_wei"`
	Distributions  []distribution `json:"distributions"`
}

// handlePreviewStrategy answers "how would this amount split". The protocol
// fee comes from the strategy; splits come from the body when supplied,
// otherwise from the stored configuration.
func (s *Server) handlePreviewStrategy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := s.readRequestBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	var req previewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	amount, err := economics.ParseWei(req.AmountWei)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("invalid amount_wei: %w", err))
		return
	}

	var (
		splits []economics.Split
		feeBps uint32
	)
	if entry, ok := s.catalog.Lookup(id); ok {
		splits = economics.DefaultSplits()
		feeBps = entry.ProtocolFeeBps
	} else {
		stored, err := s.store.GetStrategy(r.Context(), id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		feeBps = stored.ProtocolFeeBps
		splits = economics.DefaultSplits()
		if strategy, perr := economics.ParseStrategy(stored.Payload); perr == nil {
			splits = strategy.Splits
		}
	}
	if len(req.Splits) > 0 {
		splits = req.Splits
	}
	preview, err := economics.PreviewSplits(amount, feeBps, splits)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	resp := previewResponse{
		StrategyID:     id,
		GrossWei:       preview.Gross.String(),
		ProtocolFeeBps: feeBps,
		ProtocolFeeWei: preview.Fee.String(),
		NetWei:         preview.Net.String(),
		Distributions:  make([]distribution, 0, len(preview.Payouts)),
	}
	for _, payout := range preview.Payouts {
		resp.Distributions = append(resp.Distributions, distribution{
			Role:      payout.Role,
			Recipient: payout.Recipient,
			AmountWei: payout.Amount.String(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
