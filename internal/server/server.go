package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"librarian/internal/app"
	"librarian/internal/ratelimit"
	"librarian/internal/util"
	"librarian/pkg/domain"
	"librarian/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Limiter        *ratelimit.SlidingWindowLimiter
	TrustedProxies []string
}

// Server exposes the JSON API for books, members, and loans.
type Server struct {
	app     *app.App
	limiter *ratelimit.SlidingWindowLimiter
	trusted *util.TrustedProxies
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:     cfg.App,
		limiter: cfg.Limiter,
		trusted: trusted,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("library", util.WithSecurityHeaders(util.WithCORS(s.withRateLimit(s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/api/system/health", s.handleSystemHealth)
	s.mux.HandleFunc("/api/system/stats", s.handleSystemStats)

	s.mux.HandleFunc("/api/books", s.handleBooks)
	s.mux.HandleFunc("/api/books/", s.handleBookByID)
	s.mux.HandleFunc("/api/members", s.handleMembers)
	s.mux.HandleFunc("/api/members/", s.handleMemberByID)
	s.mux.HandleFunc("/api/loans", s.handleLoans)
	s.mux.HandleFunc("/api/loans/", s.handleLoanByPath)
}

// withRateLimit rejects requests over the per-client, per-class budget.
// Liveness probes are exempt.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		clientIP := util.ClientIP(r, s.trusted)
		class := ratelimit.Classify(r.Method, r.URL.Path)
		dec := s.limiter.Allow(r.Context(), clientIP, class)
		if !dec.Allowed {
			if dec.RetryAfter > 0 {
				seconds := int(math.Ceil(dec.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
			}
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	dbOK, cacheOK := s.app.Health(r.Context())
	status := "healthy"
	code := http.StatusOK
	if !dbOK || !cacheOK {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"database":  connState(dbOK),
		"cache":     connState(cacheOK),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func connState(ok bool) string {
	if ok {
		return "connected"
	}
	return "disconnected"
}

func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	payload := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if stats, err := s.app.CacheStats(r.Context()); err == nil {
		payload["cache"] = stats
	}
	if dashboard, err := s.app.Dashboard(r.Context()); err == nil {
		payload["dashboard"] = dashboard
	}
	if popular, err := s.app.PopularBooks(r.Context()); err == nil {
		payload["popularBooks"] = popular
	}
	writeJSON(w, http.StatusOK, payload)
}

type bookRequest struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Publisher   string `json:"publisher"`
	Year        int    `json:"year"`
	ISBN        string `json:"isbn"`
	Pages       int    `json:"pages"`
	Description string `json:"description"`
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		books, err := s.app.ListBooks(r.Context())
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": books, "count": len(books)})
	case http.MethodPost:
		var req bookRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		book, err := s.app.CreateBook(r.Context(), domain.Book{
			Title:       req.Title,
			Author:      req.Author,
			Publisher:   req.Publisher,
			Year:        req.Year,
			ISBN:        req.ISBN,
			Pages:       req.Pages,
			Description: req.Description,
		})
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, book)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/books/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		book, ok, err := s.app.GetBook(r.Context(), id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		if !ok {
			notFound(w, "book not found")
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodPut:
		var upd domain.BookUpdate
		if !decodeJSON(w, r, &upd) {
			return
		}
		book, ok, err := s.app.UpdateBook(r.Context(), id, upd)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		if !ok {
			notFound(w, "book not found")
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodDelete:
		ok, err := s.app.DeleteBook(r.Context(), id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		if !ok {
			notFound(w, "book not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

type memberRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		members, err := s.app.ListMembers(r.Context())
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": members, "count": len(members)})
	case http.MethodPost:
		var req memberRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		member, err := s.app.CreateMember(r.Context(), domain.Member{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
			Phone:     req.Phone,
			Address:   req.Address,
		})
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, member)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMemberByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/members/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		member, ok, err := s.app.GetMember(r.Context(), id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		if !ok {
			notFound(w, "member not found")
			return
		}
		writeJSON(w, http.StatusOK, member)
	case http.MethodPut:
		var upd domain.MemberUpdate
		if !decodeJSON(w, r, &upd) {
			return
		}
		member, ok, err := s.app.UpdateMember(r.Context(), id, upd)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		if !ok {
			notFound(w, "member not found")
			return
		}
		writeJSON(w, http.StatusOK, member)
	case http.MethodDelete:
		ok, err := s.app.DeleteMember(r.Context(), id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		if !ok {
			notFound(w, "member not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

type checkoutRequest struct {
	BookID   string    `json:"bookId"`
	MemberID string    `json:"memberId"`
	DueAt    time.Time `json:"dueAt"`
	Notes    string    `json:"notes"`
}

func (s *Server) handleLoans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		loans, err := s.app.ListLoans(r.Context())
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": loans, "count": len(loans)})
	case http.MethodPost:
		var req checkoutRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		loan, err := s.app.Checkout(r.Context(), app.CheckoutInput{
			BookID:   req.BookID,
			MemberID: req.MemberID,
			DueAt:    req.DueAt,
			Notes:    req.Notes,
		})
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, loan)
	default:
		methodNotAllowed(w)
	}
}

// /api/loans/overdue, /api/loans/{id}, /api/loans/{id}/return
func (s *Server) handleLoanByPath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/loans/")
	if path == "overdue" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		loans, err := s.app.ListOverdueLoans(r.Context())
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": loans, "count": len(loans)})
		return
	}

	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "return" {
			notFound(w, "not found")
			return
		}
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		loan, err := s.app.Return(r.Context(), id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "returned", "loan": loan})
		return
	}

	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	loan, ok, err := s.app.GetLoan(r.Context(), id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	if !ok {
		notFound(w, "loan not found")
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeAppError maps workflow and validation errors to precise client
// responses; everything else is a server error.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrBookNotFound),
		errors.Is(err, store.ErrMemberNotFound),
		errors.Is(err, store.ErrLoanNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrBookUnavailable),
		errors.Is(err, store.ErrBookAlreadyLoaned),
		errors.Is(err, store.ErrLoanAlreadyReturned):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeFor(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeFor(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "book not found":
		return "BOOK_NOT_FOUND"
	case message == "member not found":
		return "MEMBER_NOT_FOUND"
	case message == "loan not found":
		return "LOAN_NOT_FOUND"
	case message == "book unavailable":
		return "BOOK_UNAVAILABLE"
	case message == "book already loaned":
		return "BOOK_ALREADY_LOANED"
	case message == "loan already returned":
		return "LOAN_ALREADY_RETURNED"
	case message == "rate limit exceeded":
		return "RATE_LIMITED"
	case message == "invalid json body", strings.HasPrefix(message, "invalid input"):
		return "REQUEST_INVALID"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusConflict:
		return "LOAN_CONFLICT"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
