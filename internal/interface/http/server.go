package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/booksage/bookshelf/internal/database"
	"github.com/booksage/bookshelf/internal/database/models"
	"github.com/booksage/bookshelf/internal/usecase/library"
	"go.uber.org/zap"
)

const (
	apiVersion   = "1.0.0"
	maxBodyBytes = 1 << 20

	msgBookNotFound = "Book not found"
	msgBookDeleted  = "Book deleted successfully"
)

// Server holds the dependencies for the HTTP API server
type Server struct {
	books  *library.Service
	logger *zap.Logger
}

// NewServer initializes a new API server with the required dependencies
func NewServer(books *library.Service, logger *zap.Logger) *Server {
	return &Server{
		books:  books,
		logger: logger.Named("http"),
	}
}

// RegisterRoutes registers all API endpoints with a new ServeMux.
// Collection paths answer with and without the trailing slash.
func (s *Server) RegisterRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	for _, p := range []string{"/books", "/books/{$}"} {
		mux.HandleFunc("POST "+p, s.handleCreateBook)
		mux.HandleFunc("GET "+p, s.handleListBooks)
	}
	for _, p := range []string{"/books/search", "/books/search/{$}"} {
		mux.HandleFunc("GET "+p, s.handleSearchBooks)
	}

	mux.HandleFunc("GET /books/{id}", s.handleGetBook)
	mux.HandleFunc("PUT /books/{id}", s.handleUpdateBook)
	mux.HandleFunc("DELETE /books/{id}", s.handleDeleteBook)

	return mux
}

// Handler returns the routes wrapped in the request middleware.
func (s *Server) Handler() http.Handler {
	return s.withRequestLogging(s.withRecovery(s.RegisterRoutes()))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome to Book Collection API",
		"version": apiVersion,
		"endpoints": []string{
			"POST /books/ - Add new book",
			"GET /books/ - Get all books",
			"GET /books/search/ - Search books",
			"GET /books/{id} - Get book",
			"PUT /books/{id} - Update book",
			"DELETE /books/{id} - Delete book",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.books.Ping(ctx); err != nil {
		s.logger.Warn("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req library.BookInput
	if !s.decodeBody(w, r, &req) {
		return
	}

	book, err := s.books.Create(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	var q library.ListQuery
	var ok bool
	if q.Limit, ok = queryInt(w, r, "limit"); !ok {
		return
	}
	if q.Offset, ok = queryInt(w, r, "offset"); !ok {
		return
	}

	books, err := s.books.List(r.Context(), q)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeBooks(w, books)
}

func (s *Server) handleSearchBooks(w http.ResponseWriter, r *http.Request) {
	q := library.SearchQuery{
		Title:  r.URL.Query().Get("title"),
		Author: r.URL.Query().Get("author"),
	}
	var ok bool
	if q.Year, ok = queryInt(w, r, "year"); !ok {
		return
	}

	books, err := s.books.Search(r.Context(), q)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeBooks(w, books)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	book, err := s.books.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req library.BookUpdate
	if !s.decodeBody(w, r, &req) {
		return
	}

	book, err := s.books.Update(r.Context(), id, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.books.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msgBookDeleted})
}

// decodeBody reads a JSON object into dst. Syntax errors are 400, values of
// the wrong type are 422.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil {
		return true
	}

	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &typeErr):
		writeValidation(w, []library.FieldError{{Field: typeErr.Field, Rule: typeErr.Type.String()}})
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
	case errors.Is(err, io.EOF):
		writeError(w, http.StatusBadRequest, "Request body is required")
	default:
		writeError(w, http.StatusBadRequest, "Invalid request payload")
	}
	return false
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *library.ValidationError
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, msgBookNotFound)
	case errors.As(err, &verr):
		writeValidation(w, verr.Fields)
	case errors.Is(err, library.ErrInvalidInput):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("Request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeValidation(w, []library.FieldError{{Field: "id", Rule: "int"}})
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeValidation(w, []library.FieldError{{Field: name, Rule: "int"}})
		return 0, false
	}
	return v, true
}

type errorResponse struct {
	Detail string               `json:"detail"`
	Errors []library.FieldError `json:"errors,omitempty"`
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func writeValidation(w http.ResponseWriter, fields []library.FieldError) {
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: "Validation failed", Errors: fields})
}

func writeBooks(w http.ResponseWriter, books []*models.Book) {
	if books == nil {
		books = []*models.Book{}
	}
	writeJSON(w, http.StatusOK, books)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
