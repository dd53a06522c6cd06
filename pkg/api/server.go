package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/matching"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/phase"
	"github.com/uhyunpark/dutchmarket/pkg/app/dutch"
	"github.com/uhyunpark/dutchmarket/pkg/sequencer"
	"github.com/uhyunpark/dutchmarket/pkg/util"
)

const (
	defaultFillsLimit = 50
	maxFillsLimit     = 500
	maxTxBytes        = 64 << 10
)

// Server handles REST API and WebSocket connections
type Server struct {
	app    *dutch.App
	router *mux.Router
	hub    *Hub // WebSocket hub
	units  unitFormatter
	logger *zap.Logger

	allowedOrigins []string
}

// NewServer creates a new API server
func NewServer(app *dutch.App, allowedOrigins []string, logger *zap.Logger) *Server {
	logger = util.OrNop(logger)
	s := &Server{
		app:            app,
		router:         mux.NewRouter(),
		hub:            NewHub(logger.Named("ws")),
		units:          newUnitFormatter(app.Status().PriceScale),
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/phase", s.handleGetPhase).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/balance", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/accounts/{address}/tokens/{token}", s.handleGetTokenBalance).Methods("GET")

	// Offer book
	api.HandleFunc("/offers", s.handleGetOffers).Methods("GET")
	api.HandleFunc("/offers/count", s.handleGetOffersCount).Methods("GET")
	api.HandleFunc("/offers/last", s.handleGetLastOffer).Methods("GET")
	api.HandleFunc("/offers/{id:[0-9]+}", s.handleGetOffer).Methods("GET")

	// Bid book
	api.HandleFunc("/bids", s.handleGetBids).Methods("GET")
	api.HandleFunc("/bids/count", s.handleGetBidsCount).Methods("GET")
	api.HandleFunc("/bids/last", s.handleGetLastBid).Methods("GET")
	api.HandleFunc("/bids/{id:[0-9]+}", s.handleGetBid).Methods("GET")

	api.HandleFunc("/fills", s.handleGetFills).Methods("GET")

	// Chain endpoints
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")

	// Transactions
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/tx/{hash}", s.handleGetReceipt).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api_listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetPhase(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, phaseInfo(s.app.Phase()))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	wallet := s.app.WalletBalance(addr)
	escrow := s.app.Balance(addr)
	respondJSON(w, BalanceInfo{
		Address:     addr.Hex(),
		Asset:       core.NativeAsset.String(),
		Escrow:      amount(escrow),
		EscrowUnits: s.units.format(escrow),
		Wallet:      amount(wallet),
		WalletUnits: s.units.format(wallet),
		Nonce:       s.app.Nonce(addr),
	})
}

func (s *Server) handleGetTokenBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	tok, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	wallet, err := s.app.WalletTokenBalance(tok, addr)
	if err != nil {
		respondKindError(w, http.StatusNotFound, "unknown token", err)
		return
	}
	escrow := s.app.TokenBalance(tok, addr)
	respondJSON(w, BalanceInfo{
		Address:     addr.Hex(),
		Asset:       tok.Hex(),
		Escrow:      amount(escrow),
		EscrowUnits: s.units.format(escrow),
		Wallet:      amount(wallet),
		WalletUnits: s.units.format(wallet),
		Nonce:       s.app.Nonce(addr),
	})
}

func (s *Server) handleGetOffers(w http.ResponseWriter, r *http.Request) {
	offers := s.app.Offers()
	out := make([]OfferInfo, 0, len(offers))
	for _, o := range offers {
		out = append(out, s.units.offerInfo(o))
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	o, err := s.app.Offer(id)
	if err != nil {
		respondKindError(w, http.StatusNotFound, "offer not found", err)
		return
	}
	respondJSON(w, s.units.offerInfo(o))
}

func (s *Server) handleGetOffersCount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, CountInfo{Count: s.app.OffersCount()})
}

func (s *Server) handleGetLastOffer(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, LastInfo{Last: uint64(s.app.LastOfferNumber())})
}

func (s *Server) handleGetBids(w http.ResponseWriter, r *http.Request) {
	bids := s.app.Bids()
	out := make([]BidInfo, 0, len(bids))
	for _, b := range bids {
		out = append(out, s.units.bidInfo(b))
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := s.app.Bid(id)
	if err != nil {
		respondKindError(w, http.StatusNotFound, "bid not found", err)
		return
	}
	respondJSON(w, s.units.bidInfo(b))
}

func (s *Server) handleGetBidsCount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, CountInfo{Count: s.app.BidsCount()})
}

func (s *Server) handleGetLastBid(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, LastInfo{Last: uint64(s.app.LastBidNumber())})
}

func (s *Server) handleGetFills(w http.ResponseWriter, r *http.Request) {
	limit := defaultFillsLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", q)
			return
		}
		limit = min(n, maxFillsLimit)
	}
	fills, err := s.app.RecentFills(limit)
	if err != nil {
		if errors.Is(err, dutch.ErrNoStore) {
			respondJSON(w, []FillInfo{})
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load fills", err.Error())
		return
	}
	respondJSON(w, s.units.fillInfos(fills))
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	st := s.app.Status()
	resp := ChainStatus{
		Height:      st.Height,
		AppHash:     st.AppHash.Hex(),
		Phase:       st.Phase.String(),
		Custody:     st.Custody.Hex(),
		PriceScale:  amount(st.PriceScale),
		Tokens:      make([]TokenInfo, 0, len(st.Tokens)),
		MempoolSize: st.Pending,
	}
	if st.Operator != (common.Address{}) {
		resp.Operator = st.Operator.Hex()
	}
	for _, t := range st.Tokens {
		resp.Tokens = append(resp.Tokens, TokenInfo{Address: t.Address.Hex(), Symbol: t.Symbol})
	}
	respondJSON(w, resp)
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if len(body) > maxTxBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "transaction too large", "")
		return
	}

	hash, err := s.app.SubmitTx(body)
	if err != nil {
		respondKindError(w, submitStatus(err), "transaction rejected", err)
		return
	}

	s.logger.Info("tx_submitted", zap.String("hash", hash.Hex()), zap.Int("bytes", len(body)))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitTxResponse{Status: "submitted", Hash: hash.Hex()})
}

func submitStatus(err error) int {
	switch core.Kind(err) {
	case "InvalidSignature":
		return http.StatusUnauthorized
	case "Unauthorized":
		return http.StatusForbidden
	case "StaleNonce":
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["hash"]
	b := common.FromHex(raw)
	if len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid hash", raw)
		return
	}
	rcpt, found, err := s.app.Receipt(common.BytesToHash(b))
	if err != nil && !errors.Is(err, dutch.ErrNoStore) {
		respondError(w, http.StatusInternalServerError, "failed to load receipt", err.Error())
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "receipt not found", "pending or unknown transaction")
		return
	}
	respondJSON(w, rcpt)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called after commit)
// ==============================

func (s *Server) BroadcastFills(fills []matching.Fill) {
	s.hub.BroadcastToChannel("fills", FillsUpdate{Type: "fills", Fills: s.units.fillInfos(fills)})
}

func (s *Server) BroadcastPhase(p phase.Phase) {
	s.hub.BroadcastToChannel("phase", PhaseUpdate{Type: "phase", Phase: p.String(), Value: uint8(p)})
}

func (s *Server) BroadcastBlock(b sequencer.Block) {
	s.hub.BroadcastToChannel("blocks", BlockUpdate{
		Type:    "block",
		Height:  uint64(b.Height),
		Hash:    sequencer.HashOfBlock(b).Hex(),
		AppHash: b.AppHash.Hex(),
		Time:    b.Time.UnixMilli(),
		Txs:     bytes.Count(b.Payload, []byte{0x00}),
	})
}

// ==============================
// Helper Functions
// ==============================

func pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	v := mux.Vars(r)[name]
	if !common.IsHexAddress(v) {
		respondError(w, http.StatusBadRequest, "invalid address", v)
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func pathID(w http.ResponseWriter, r *http.Request) (core.OrderID, bool) {
	v := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id", v)
		return 0, false
	}
	return core.OrderID(id), true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

func respondKindError(w http.ResponseWriter, status int, error string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Kind:    core.Kind(err),
		Message: err.Error(),
	})
}
