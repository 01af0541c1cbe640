package alerts

import (
	"fmt"
	"strings"

	"github.com/cinderlog/cinder/internal/models"
)

// parseStatusParam validates an optional status query parameter. An
// empty value means no filtering.
func parseStatusParam(s string) (models.AlertStatus, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	status, ok := models.ParseAlertStatus(s)
	if !ok {
		return "", fmt.Errorf("status must be open, acknowledged, or resolved")
	}
	return status, nil
}

// parseSeverityParam validates an optional severity query parameter. An
// empty value means no filtering. Unlike models.ParseSeverity this does
// not default unknown input to medium; filters must be exact.
func parseSeverityParam(s string) (models.Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "low":
		return models.SeverityLow, nil
	case "medium":
		return models.SeverityMedium, nil
	case "high":
		return models.SeverityHigh, nil
	case "critical":
		return models.SeverityCritical, nil
	default:
		return "", fmt.Errorf("severity must be low, medium, high, or critical")
	}
}
