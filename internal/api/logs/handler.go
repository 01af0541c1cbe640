// Package logs provides HTTP handlers for log ingestion and query endpoints.
package logs

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/cinderlog/cinder/internal/cache"
	"github.com/cinderlog/cinder/internal/ingest"
	"github.com/cinderlog/cinder/internal/models"
	"github.com/cinderlog/cinder/internal/storage"
)

// Response helpers (local to avoid import cycle with api package)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data  any       `json:"data,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

const (
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeInternalError    = "INTERNAL_ERROR"
)

const (
	maxRawBytes    = 1 << 20  // single raw line uploads
	maxUploadBytes = 32 << 20 // multipart file uploads
	maxPerPage     = 1000
	maxRecentLimit = 1000
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Error: &apiError{Code: code, Message: message}})
}

func jsonData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Data: data})
}

// Handler handles log ingestion and query endpoints.
type Handler struct {
	coordinator *ingest.Coordinator
	store       storage.LogStore
	cache       cache.Cache // nil when the cache is disabled
}

// NewHandler creates a new logs handler.
func NewHandler(coordinator *ingest.Coordinator, store storage.LogStore, c cache.Cache) *Handler {
	return &Handler{
		coordinator: coordinator,
		store:       store,
		cache:       c,
	}
}

// EntryRequest is the structured ingestion payload. Server-assigned
// fields (id, severity, category when blank, processed_at) are not
// accepted from clients.
type EntryRequest struct {
	Timestamp   time.Time         `json:"timestamp"`
	Level       string            `json:"level"`
	Message     string            `json:"message"`
	Source      string            `json:"source"`
	Application string            `json:"application"`
	Environment string            `json:"environment"`
	Host        string            `json:"host"`
	Category    string            `json:"category"`
	Logger      string            `json:"logger"`
	Thread      string            `json:"thread"`
	UserID      string            `json:"user_id"`
	SessionID   string            `json:"session_id"`
	RequestID   string            `json:"request_id"`
	Metadata    map[string]string `json:"metadata"`
	Tags        []string          `json:"tags"`
}

func (req *EntryRequest) toEntry() *models.LogEntry {
	entry := models.NewLogEntry()
	entry.Timestamp = req.Timestamp
	entry.Level = models.Level(req.Level)
	entry.Message = req.Message
	entry.Source = req.Source
	entry.Application = req.Application
	entry.Environment = req.Environment
	entry.Host = req.Host
	entry.Category = req.Category
	entry.Logger = req.Logger
	entry.Thread = req.Thread
	entry.UserID = req.UserID
	entry.SessionID = req.SessionID
	entry.RequestID = req.RequestID
	if req.Metadata != nil {
		entry.Metadata = req.Metadata
	}
	entry.Tags = req.Tags
	return entry
}

// BatchRequest carries raw lines sharing one source.
type BatchRequest struct {
	Lines  []string `json:"lines"`
	Source string   `json:"source"`
}

// BatchResponse reports the outcome of a batch ingestion.
type BatchResponse struct {
	Stored  int                `json:"stored"`
	Skipped int                `json:"skipped"`
	Entries []*models.LogEntry `json:"entries"`
}

// LogsResponse wraps a paginated list of entries.
type LogsResponse struct {
	Items      []*models.LogEntry `json:"items"`
	Total      int64              `json:"total"`
	Page       int                `json:"page"`
	PerPage    int                `json:"per_page"`
	TotalPages int                `json:"total_pages"`
}

// StatsResponse contains aggregated log statistics.
type StatsResponse struct {
	TotalEntries int64                  `json:"total_entries"`
	ErrorRate    float64                `json:"error_rate"`
	Levels       map[string]int64       `json:"levels"`
	Sources      map[string]int64       `json:"sources"`
	Volume       []storage.VolumeBucket `json:"volume"`
}

// DeleteResponse reports how many entries an administrative clear removed.
type DeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

// writeIngestError maps coordinator errors onto API error responses.
func writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrNilEntry),
		errors.Is(err, ingest.ErrMissingLevel),
		errors.Is(err, ingest.ErrEmptyLine),
		errors.Is(err, ingest.ErrBatchTooLarge):
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
	default:
		log.Printf("ingest error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
	}
}

// Create handles POST /api/v1/logs - ingest one structured entry.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	entry, err := h.coordinator.IngestEntry(r.Context(), req.toEntry())
	if err != nil {
		writeIngestError(w, err)
		return
	}

	jsonData(w, http.StatusCreated, entry)
}

// CreateRaw handles POST /api/v1/logs/raw - ingest one plain-text line.
// The optional source query parameter tags the entry's origin.
func (h *Handler) CreateRaw(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRawBytes))
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "read request body: body too large or unreadable")
		return
	}

	source := r.URL.Query().Get("source")

	entry, err := h.coordinator.Ingest(r.Context(), string(body), source)
	if err != nil {
		writeIngestError(w, err)
		return
	}

	jsonData(w, http.StatusCreated, entry)
}

// CreateBatch handles POST /api/v1/logs/batch - ingest many raw lines in
// one persistence round trip. Blank lines are skipped, not errors.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if len(req.Lines) == 0 {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "lines is required")
		return
	}

	entries, skipped, err := h.coordinator.IngestBatch(r.Context(), req.Lines, req.Source)
	if err != nil {
		writeIngestError(w, err)
		return
	}

	jsonData(w, http.StatusCreated, &BatchResponse{
		Stored:  len(entries),
		Skipped: skipped,
		Entries: entries,
	})
}

// Upload handles POST /api/v1/logs/upload - ingest a multipart log file
// line by line. The source defaults to the uploaded file name.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "file field is required")
		return
	}
	defer file.Close()

	source := r.FormValue("source")
	if source == "" {
		source = header.Filename
	}

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, fmt.Sprintf("read upload: %v", err))
		return
	}

	entries, skipped, err := h.coordinator.IngestBatch(r.Context(), lines, source)
	if err != nil {
		writeIngestError(w, err)
		return
	}

	jsonData(w, http.StatusCreated, &BatchResponse{
		Stored:  len(entries),
		Skipped: skipped,
		Entries: entries,
	})
}

// Query handles GET /api/v1/logs - query the store with filters and
// pagination.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := &storage.Filter{}

	if startStr := q.Get("start"); startStr != "" {
		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid start time format (use RFC3339)")
			return
		}
		filter.Start = start
	}
	if endStr := q.Get("end"); endStr != "" {
		end, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid end time format (use RFC3339)")
			return
		}
		filter.End = end
	}
	if !filter.Start.IsZero() && !filter.End.IsZero() && filter.Start.After(filter.End) {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "start time must be before end time")
		return
	}

	if levelStr := q.Get("level"); levelStr != "" {
		level, ok := models.ParseLevel(levelStr)
		if !ok {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, fmt.Sprintf("unrecognized level %q", levelStr))
			return
		}
		filter.Level = level
	}
	if levelsStr := q.Get("levels"); levelsStr != "" {
		for _, part := range strings.Split(levelsStr, ",") {
			level, ok := models.ParseLevel(part)
			if !ok {
				jsonError(w, http.StatusBadRequest, errCodeValidationFailed, fmt.Sprintf("unrecognized level %q", strings.TrimSpace(part)))
				return
			}
			filter.Levels = append(filter.Levels, level)
		}
	}

	filter.Source = q.Get("source")
	filter.Category = q.Get("category")
	filter.Application = q.Get("application")
	filter.Environment = q.Get("environment")
	filter.Contains = q.Get("q")

	page := 1
	if pageStr := q.Get("page"); pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p < 1 {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid page number")
			return
		}
		page = p
	}

	perPage := 50
	if perPageStr := q.Get("per_page"); perPageStr != "" {
		pp, err := strconv.Atoi(perPageStr)
		if err != nil || pp < 1 || pp > maxPerPage {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, fmt.Sprintf("per_page must be between 1 and %d", maxPerPage))
			return
		}
		perPage = pp
	}

	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	result, err := h.store.Query(r.Context(), filter)
	if err != nil {
		log.Printf("log query error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	totalPages := 0
	if result.Total > 0 {
		totalPages = int(math.Ceil(float64(result.Total) / float64(perPage)))
	}

	items := result.Entries
	if items == nil {
		items = []*models.LogEntry{}
	}

	jsonData(w, http.StatusOK, &LogsResponse{
		Items:      items,
		Total:      result.Total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	})
}

// GetByID handles GET /api/v1/logs/{id}. The cache is consulted first,
// best effort; the store answers on a miss.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "log id required")
		return
	}

	ctx := r.Context()

	if h.cache != nil {
		if entry, err := h.cache.GetByID(ctx, id); err == nil && entry != nil {
			jsonData(w, http.StatusOK, entry)
			return
		}
	}

	entry, err := h.store.GetByID(ctx, id)
	if err != nil {
		log.Printf("get log error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if entry == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "log entry not found")
		return
	}

	jsonData(w, http.StatusOK, entry)
}

// Recent handles GET /api/v1/logs/recent - the cache-backed hot path.
// Returns 503 when the cache is disabled; callers fall back to GET /logs.
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		jsonError(w, http.StatusServiceUnavailable, errCodeInternalError, "cache disabled")
		return
	}

	q := r.URL.Query()

	limit := 100
	if limitStr := q.Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 || l > maxRecentLimit {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxRecentLimit))
			return
		}
		limit = l
	}

	errorsOnly := false
	if errStr := q.Get("errors"); errStr != "" {
		b, err := strconv.ParseBool(errStr)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "errors must be a boolean")
			return
		}
		errorsOnly = b
	}

	ctx := r.Context()
	var entries []*models.LogEntry
	var err error
	if errorsOnly {
		entries, err = h.cache.RecentErrors(ctx, limit)
	} else {
		entries, err = h.cache.Recent(ctx, limit)
	}
	if err != nil {
		log.Printf("recent logs error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if entries == nil {
		entries = []*models.LogEntry{}
	}

	jsonData(w, http.StatusOK, entries)
}

// Stats handles GET /api/v1/logs/stats - aggregate statistics. All four
// store queries run in parallel; the cache is never consulted here.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	var (
		total   int64
		levels  map[models.Level]int64
		sources map[string]int64
		volume  []storage.VolumeBucket
	)

	g, gCtx := errgroup.WithContext(r.Context())

	g.Go(func() error {
		var err error
		total, err = h.store.Count(gCtx)
		return err
	})

	g.Go(func() error {
		var err error
		levels, err = h.store.LevelCounts(gCtx)
		return err
	})

	g.Go(func() error {
		var err error
		sources, err = h.store.CountBySource(gCtx)
		return err
	})

	g.Go(func() error {
		var err error
		volume, err = h.store.HourlyVolume(gCtx, time.Now().Add(-24*time.Hour))
		return err
	})

	if err := g.Wait(); err != nil {
		log.Printf("stats query error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	levelStrings := make(map[string]int64, len(levels))
	for level, count := range levels {
		levelStrings[string(level)] = count
	}

	errorRate := 0.0
	if total > 0 {
		bad := levels[models.LevelError] + levels[models.LevelFatal] + levels[models.LevelCritical]
		errorRate = float64(bad) / float64(total) * 100
	}

	if volume == nil {
		volume = []storage.VolumeBucket{}
	}
	if sources == nil {
		sources = map[string]int64{}
	}

	jsonData(w, http.StatusOK, &StatsResponse{
		TotalEntries: total,
		ErrorRate:    errorRate,
		Levels:       levelStrings,
		Sources:      sources,
		Volume:       volume,
	})
}

// DeleteAll handles DELETE /api/v1/logs - administrative clear of the
// system of record. The cache is untouched; entries age out of it.
func (h *Handler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.DeleteAll(r.Context())
	if err != nil {
		log.Printf("delete logs error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("administrative clear removed %d entries", deleted)
	jsonData(w, http.StatusOK, &DeleteResponse{Deleted: deleted})
}

// ClearCache handles DELETE /api/v1/logs/cache - wipe the read-side
// cache. The store is untouched.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		jsonError(w, http.StatusServiceUnavailable, errCodeInternalError, "cache disabled")
		return
	}

	if err := h.cache.Clear(r.Context()); err != nil {
		log.Printf("clear cache error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
