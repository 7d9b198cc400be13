// Package api serves the node over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/xeipuuv/gojsonschema"

	"github.com/liftedinit/medchain/internal/auth"
	"github.com/liftedinit/medchain/internal/consent"
	"github.com/liftedinit/medchain/internal/metrics"
	"github.com/liftedinit/medchain/internal/models"
	"github.com/liftedinit/medchain/internal/node"
)

const maxBodyBytes = 1 << 20

// Node is the part of a node the HTTP layer drives.
type Node interface {
	RequestConsent(patientID string) (string, time.Duration, error)
	Submit(ctx context.Context, req node.SubmitRequest) (string, error)
	TryCommit(ctx context.Context) (string, error)
	Remaining() time.Duration
	Validate() (bool, string)
	BlockCount() int
	PatientHistory(patientID string) []models.HistoryEntry
	RecentMetrics(limit int) []models.MetricsEntry
	Stats() models.NodeStats
}

type Options struct {
	StaticDir      string
	AllowedOrigins []string
}

type Server struct {
	node      Node
	users     *auth.Directory
	tokens    *auth.Issuer
	schema    *gojsonschema.Schema
	staticDir string
	origins   []string
}

func NewServer(n Node, users *auth.Directory, tokens *auth.Issuer, opts Options) (*Server, error) {
	schema, err := loadAddRecordSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to load add_record schema: %w", err)
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		node:      n,
		users:     users,
		tokens:    tokens,
		schema:    schema,
		staticDir: opts.StaticDir,
		origins:   origins,
	}, nil
}

// Handler returns the routed, CORS-enabled handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/request_consent", s.handleRequestConsent).Methods(http.MethodPost)
	api.HandleFunc("/validate_chain", s.handleValidateChain).Methods(http.MethodGet)
	api.HandleFunc("/add_record", s.handleAddRecord).Methods(http.MethodPost)
	api.HandleFunc("/validate", s.handleValidate).Methods(http.MethodPost)
	api.HandleFunc("/patient_records", s.handlePatientRecords).Methods(http.MethodPost)
	api.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	r.HandleFunc("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.PathPrefix("/").HandlerFunc(s.handleStatic).Methods(http.MethodGet, http.MethodHead)

	h := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
	}).Handler(r)

	return withRequestLog(h)
}

type response struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	Field     string `json:"field,omitempty"`
}

type loginRequest struct {
	Role      string `json:"role"`
	PatientID string `json:"patientId"`
	DoctorID  string `json:"doctorId"`
	Password  string `json:"password"`
}

type loginResponse struct {
	Success   bool   `json:"success"`
	UserType  string `json:"userType"`
	PatientID string `json:"patientId,omitempty"`
	DoctorID  string `json:"doctorId,omitempty"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	var subject string
	switch req.Role {
	case auth.RolePatient:
		if _, err := s.users.Patient(req.PatientID, req.Password); err == nil {
			subject = req.PatientID
		}
	case auth.RoleDoctor:
		if _, err := s.users.Doctor(req.DoctorID, req.Password); err == nil {
			subject = req.DoctorID
		}
	}
	if subject == "" {
		writeJSON(w, http.StatusUnauthorized, response{Message: "Invalid credentials"})
		return
	}

	token, expiry, err := s.tokens.Issue(req.Role, subject)
	if err != nil {
		serverError(w, r, err)
		return
	}

	resp := loginResponse{Success: true, UserType: req.Role, Token: token, ExpiresAt: expiry.Unix()}
	if req.Role == auth.RolePatient {
		resp.PatientID = subject
	} else {
		resp.DoctorID = subject
	}
	writeJSON(w, http.StatusOK, resp)
}

type patientRequest struct {
	PatientID string `json:"patientId"`
	Password  string `json:"password"`
}

type consentResponse struct {
	Success bool   `json:"success"`
	OTP     string `json:"otp"`
	Expiry  int64  `json:"expiry"`
}

func (s *Server) handleRequestConsent(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if !decode(w, r, &req) {
		return
	}
	if !s.authorizePatient(r, req.PatientID, req.Password) {
		writeJSON(w, http.StatusUnauthorized, response{Message: "Invalid patient credentials"})
		return
	}

	otp, ttl, err := s.node.RequestConsent(req.PatientID)
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, consentResponse{Success: true, OTP: otp, Expiry: int64(ttl / time.Second)})
}

type chainResponse struct {
	Valid      bool   `json:"valid"`
	Message    string `json:"message"`
	BlockCount int    `json:"block_count"`
}

func (s *Server) handleValidateChain(w http.ResponseWriter, _ *http.Request) {
	valid, msg := s.node.Validate()
	writeJSON(w, http.StatusOK, chainResponse{Valid: valid, Message: sentence(msg), BlockCount: s.node.BlockCount()})
}

type addRecordRequest struct {
	PatientID   string             `json:"patientId"`
	DoctorID    string             `json:"doctorId"`
	Department  string             `json:"department"`
	OTP         string             `json:"otp"`
	MedicalData models.MedicalData `json:"medical_data"`
}

func (s *Server) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Message: "Failed to read request body", ErrorType: "missing_field"})
		return
	}

	if err := checkSchema(s.schema, body); err != nil {
		var serr *schemaError
		errorType := "validation"
		if errors.As(err, &serr) && serr.missing {
			errorType = "missing_field"
		}
		writeJSON(w, http.StatusBadRequest, response{Message: err.Error(), ErrorType: errorType, Field: fieldOf(err)})
		return
	}

	var req addRecordRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Message: "Invalid JSON body", ErrorType: "validation"})
		return
	}

	if claims := s.bearer(r); claims != nil {
		if claims.Role != auth.RoleDoctor || claims.Subject != req.DoctorID {
			writeJSON(w, http.StatusForbidden, response{Message: "Token does not belong to this doctor"})
			return
		}
	}

	msg, err := s.node.Submit(r.Context(), node.SubmitRequest{
		PatientID:   req.PatientID,
		DoctorID:    req.DoctorID,
		Department:  req.Department,
		MedicalData: req.MedicalData,
		OTP:         req.OTP,
	})

	var verr *models.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, response{Success: true, Message: sentence(msg)})
	case errors.As(err, &verr) && isMedicalField(verr.Field):
		writeJSON(w, http.StatusBadRequest, response{Message: sentence(verr.Reason), ErrorType: "validation", Field: verr.Field})
	case errors.Is(err, consent.ErrConsent) || errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, response{Message: sentence(consentMessage(err)), ErrorType: "blockchain_validation"})
	default:
		serverError(w, r, err)
	}
}

type validateResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Remaining *float64 `json:"remaining,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if rem := s.node.Remaining(); rem > 0 {
		secs := math.Round(rem.Seconds()*1000) / 1000
		writeJSON(w, http.StatusBadRequest, validateResponse{
			Message:   fmt.Sprintf("Batch window not reached (%.1fs remaining)", rem.Seconds()),
			Remaining: &secs,
		})
		return
	}

	msg, err := s.node.TryCommit(r.Context())
	if err != nil {
		slog.Warn("Consensus attempt failed", "request_id", RequestID(r.Context()), "error", err)
		writeJSON(w, http.StatusBadRequest, validateResponse{Message: sentence(err.Error())})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Success: true, Message: msg})
}

type historyResponse struct {
	Success bool                  `json:"success"`
	Records []models.HistoryEntry `json:"records"`
}

func (s *Server) handlePatientRecords(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if !decode(w, r, &req) {
		return
	}
	if !s.authorizePatient(r, req.PatientID, req.Password) {
		writeJSON(w, http.StatusUnauthorized, response{Message: "Unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Success: true, Records: s.node.PatientHistory(req.PatientID)})
}

type metricsResponse struct {
	Success bool                  `json:"success"`
	Count   int                   `json:"count"`
	Latest  *models.MetricsEntry  `json:"latest"`
	Metrics []models.MetricsEntry `json:"metrics"`
	Message string                `json:"message,omitempty"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	all := s.node.RecentMetrics(-1)
	if len(all) == 0 {
		writeJSON(w, http.StatusOK, metricsResponse{Success: true, Metrics: all, Message: "No metrics collected yet"})
		return
	}

	recent := all
	if len(recent) > metrics.DefaultRecentLimit {
		recent = recent[len(recent)-metrics.DefaultRecentLimit:]
	}
	latest := all[len(all)-1]
	writeJSON(w, http.StatusOK, metricsResponse{Success: true, Count: len(all), Latest: &latest, Metrics: recent})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Stats())
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if s.staticDir == "" {
		http.NotFound(w, r)
		return
	}
	name := filepath.Join(s.staticDir, filepath.FromSlash(path.Clean(r.URL.Path)))
	if info, err := os.Stat(name); err != nil || info.IsDir() {
		name = filepath.Join(s.staticDir, "index.html")
	}
	http.ServeFile(w, r, name)
}

// authorizePatient accepts a patient bearer token for patientID or the
// patient's password.
func (s *Server) authorizePatient(r *http.Request, patientID, password string) bool {
	if claims := s.bearer(r); claims != nil {
		return claims.Role == auth.RolePatient && claims.Subject == patientID
	}
	_, err := s.users.Patient(patientID, password)
	return err == nil
}

// bearer returns the verified claims of the request's bearer token, or nil.
func (s *Server) bearer(r *http.Request) *auth.Claims {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil
	}
	claims, err := s.tokens.Verify(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		slog.Debug("Rejected bearer token", "request_id", RequestID(r.Context()), "error", err)
		return nil
	}
	return claims
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Message: "Invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func serverError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("Request failed", "request_id", RequestID(r.Context()), "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, response{Message: "Server error: " + err.Error(), ErrorType: "server_error"})
}

// consentMessage drops the shared "consent refused: " prefix.
func consentMessage(err error) string {
	return strings.TrimPrefix(err.Error(), consent.ErrConsent.Error()+": ")
}

func fieldOf(err error) string {
	var serr *schemaError
	if errors.As(err, &serr) {
		return serr.field
	}
	return ""
}

func isMedicalField(field string) bool {
	return field == "diagnosis" || field == "prescription"
}

// sentence capitalises the first letter of msg for display.
func sentence(msg string) string {
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}
