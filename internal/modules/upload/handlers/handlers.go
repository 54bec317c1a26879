// Package handlers serves the manual statement-upload REST surface.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/auth"
	"github.com/aristath/moneta/internal/categorize"
	"github.com/aristath/moneta/internal/ledger"
	"github.com/aristath/moneta/internal/parsers"
)

// maxUploadBytes caps one statement file at 50 MB
const maxUploadBytes = 50 << 20

var allowedExtensions = map[string]bool{
	".ofx": true,
	".qfx": true,
	".csv": true,
	".txt": true,
}

// Handler handles statement upload requests
type Handler struct {
	uploadDir string
	bridge    *ledger.Adapter
	anomaly   *categorize.AnomalyDetector // nil = disabled
	log       zerolog.Logger
}

// NewHandler creates a new upload handler
func NewHandler(uploadDir string, bridge *ledger.Adapter, anomaly *categorize.AnomalyDetector, log zerolog.Logger) *Handler {
	return &Handler{
		uploadDir: uploadDir,
		bridge:    bridge,
		anomaly:   anomaly,
		log:       log.With().Str("handler", "upload").Logger(),
	}
}

// RegisterRoutes mounts the upload routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.HandleUpload)
}

// HandleUpload accepts one statement file, parses it, and imports the
// transactions through the ledger bridge. The stored temp file is removed on
// every exit path.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeError(w, http.StatusBadRequest, "File too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type %q", ext))
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}
	stored := filepath.Join(h.uploadDir,
		fmt.Sprintf("%d-%s", time.Now().UnixMilli(), sanitizeFilename(header.Filename)))
	dst, err := os.Create(stored)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}
	defer os.Remove(stored)

	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		h.writeError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}
	dst.Close()

	data, err := os.ReadFile(stored)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to read file")
		return
	}

	institution := r.FormValue("institution")
	kind := parsers.Detect(header.Filename, r.FormValue("hint"))
	result := parsers.Parse(kind, data, csvProfileFrom(r))

	if len(result.Transactions) == 0 && len(result.Positions) == 0 {
		h.writeError(w, http.StatusBadRequest, "No transactions found in file")
		return
	}

	if institution == "" {
		institution = result.Meta.Institution
	}
	if institution == "" {
		institution = "upload"
	}
	accountType := r.FormValue("account_type")
	if accountType == "" {
		accountType = result.Meta.AccountType
	}

	userID := auth.UserID(r.Context())
	added, skipped := 0, 0
	if len(result.Transactions) > 0 {
		if h.bridge == nil {
			h.writeError(w, http.StatusServiceUnavailable, "Ledger is not configured")
			return
		}
		ledgerID, err := h.bridge.UpsertAccount(r.Context(), institution, result.Meta.AccountID,
			accountLabel(institution, result.Meta), accountType, "USD")
		if err != nil {
			h.log.Error().Err(err).Msg("Ledger account resolve failed")
			h.writeError(w, http.StatusBadGateway, "Failed to import transactions")
			return
		}
		res := h.bridge.UpsertTransactions(r.Context(), institution, ledgerID, result.Transactions)
		added, skipped = res.Added, res.Skipped

		if result.Meta.Balance != nil {
			date := result.Meta.BalanceDate
			if date == "" {
				date = time.Now().Format("2006-01-02")
			}
			h.bridge.UpdateAccountBalance(r.Context(), ledgerID, *result.Meta.Balance, date)
		}

		h.checkAnomalies(r, userID, result.Transactions[:min(added, len(result.Transactions))])
	}

	h.log.Info().
		Str("file", header.Filename).
		Str("kind", string(kind)).
		Int("added", added).
		Int("skipped", skipped).
		Msg("Upload imported")

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{
		"kind":      string(kind),
		"added":     added,
		"skipped":   skipped,
		"positions": len(result.Positions),
	}})
}

// checkAnomalies runs newly imported withdrawals through the anomaly detector.
// Parser amounts are negative for money out, the detector expects positive
// spend amounts.
func (h *Handler) checkAnomalies(r *http.Request, userID string, txns []parsers.RawTransaction) {
	if h.anomaly == nil || len(txns) == 0 {
		return
	}
	spends := make([]categorize.Spend, 0, len(txns))
	for _, txn := range txns {
		if txn.Amount >= 0 {
			continue
		}
		spends = append(spends, categorize.Spend{
			UserID:   userID,
			Merchant: txn.Name,
			Amount:   -txn.Amount,
			Date:     txn.Date,
		})
	}
	h.anomaly.Check(r.Context(), spends)
}

func csvProfileFrom(r *http.Request) *parsers.CSVProfile {
	raw := r.FormValue("csv_profile")
	if raw == "" {
		return nil
	}
	var profile parsers.CSVProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return nil
	}
	return &profile
}

func accountLabel(institution string, meta parsers.AccountMeta) string {
	if meta.AccountID == "" {
		return institution
	}
	id := meta.AccountID
	if len(id) > 4 {
		id = id[len(id)-4:]
	}
	return fmt.Sprintf("%s %s", institution, id)
}

// sanitizeFilename strips path separators and control bytes so uploads cannot
// escape the upload directory.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, name)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
