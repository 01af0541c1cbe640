// Package enrich normalizes partially specified log entries into fully
// specified ones: blank fields get defaults, the category is inferred
// from message keywords, and a deterministic severity score is derived
// from the level and message.
package enrich

import (
	"strings"
	"time"

	"github.com/cinderlog/cinder/internal/models"
)

// Defaults applied to blank fields during enrichment.
const (
	DefaultApplication = "unknown"
	DefaultEnvironment = "production"
	DefaultCategory    = "application"
)

// maxScore caps the severity score.
const maxScore = 100

// unrecognizedBaseScore applies when the level is absent from the closed
// level set.
const unrecognizedBaseScore = 20

// levelBaseScores maps each level to its base severity contribution.
var levelBaseScores = map[models.Level]int{
	models.LevelCritical: 90,
	models.LevelFatal:    90,
	models.LevelError:    70,
	models.LevelWarn:     50,
	models.LevelInfo:     30,
	models.LevelDebug:    10,
}

// categoryBucket pairs a category with the message keywords that select it.
type categoryBucket struct {
	name     string
	keywords []string
}

// categoryBuckets is ordered by precedence; the first bucket with a
// matching keyword wins, so security outranks deployment and so on down
// to network.
var categoryBuckets = []categoryBucket{
	{"security", []string{"security", "auth", "login", "unauthorized"}},
	{"deployment", []string{"deploy", "startup", "shutdown", "restart"}},
	{"performance", []string{"performance", "slow", "timeout", "response time"}},
	{"database", []string{"database", "sql", "connection"}},
	{"network", []string{"network", "http", "api"}},
}

// scoreBonus pairs a severity bump with the keywords that earn it. Each
// bonus applies at most once, but bonuses accumulate across buckets.
type scoreBonus struct {
	points   int
	keywords []string
}

var scoreBonuses = []scoreBonus{
	{10, []string{"failed", "exception", "error"}},
	{15, []string{"timeout", "connection", "unavailable"}},
	{20, []string{"security", "unauthorized", "breach"}},
}

// Enricher fills defaults, infers categories and computes severity
// scores. It is stateless; the zero value is ready to use.
type Enricher struct{}

// New creates an Enricher.
func New() *Enricher {
	return &Enricher{}
}

// Enrich normalizes entry in place and returns it. It is a total
// function: any entry comes back fully specified, and the severity score
// depends only on (level, message).
func (e *Enricher) Enrich(entry *models.LogEntry) *models.LogEntry {
	return e.EnrichAt(entry, time.Now())
}

// EnrichAt is Enrich with an explicit clock for the processed-at stamp.
func (e *Enricher) EnrichAt(entry *models.LogEntry, now time.Time) *models.LogEntry {
	if strings.TrimSpace(entry.Application) == "" {
		entry.Application = DefaultApplication
	}
	if strings.TrimSpace(entry.Environment) == "" {
		entry.Environment = DefaultEnvironment
	}
	if strings.TrimSpace(entry.Category) == "" {
		entry.Category = InferCategory(entry.Message)
	}
	entry.Severity = Score(entry.Level, entry.Message)
	entry.ProcessedAt = now
	return entry
}

// InferCategory scans the lower-cased message against the ordered
// category buckets and returns the first match, falling through to
// "application" when nothing matches.
func InferCategory(message string) string {
	msg := strings.ToLower(message)
	for _, bucket := range categoryBuckets {
		for _, kw := range bucket.keywords {
			if strings.Contains(msg, kw) {
				return bucket.name
			}
		}
	}
	return DefaultCategory
}

// Score computes the 0-100 severity score for a (level, message) pair:
// a base contribution from the level plus cumulative keyword bonuses,
// clamped at 100.
func Score(level models.Level, message string) int {
	score, ok := levelBaseScores[level]
	if !ok {
		score = unrecognizedBaseScore
	}

	msg := strings.ToLower(message)
	for _, bonus := range scoreBonuses {
		for _, kw := range bonus.keywords {
			if strings.Contains(msg, kw) {
				score += bonus.points
				break
			}
		}
	}

	if score > maxScore {
		score = maxScore
	}
	return score
}

// DetectLevel makes a best-effort guess at the level of a raw line by
// scanning for conventional level tokens, most severe first. Offline
// analysis uses it for reporting; the ingest path never guesses levels.
func DetectLevel(line string) models.Level {
	upper := strings.ToUpper(line)
	for _, lv := range []models.Level{
		models.LevelFatal,
		models.LevelCritical,
		models.LevelError,
		models.LevelWarn,
		models.LevelInfo,
		models.LevelDebug,
	} {
		if strings.Contains(upper, string(lv)) {
			return lv
		}
	}
	return models.LevelUnknown
}
