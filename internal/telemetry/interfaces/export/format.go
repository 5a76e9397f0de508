package export

import (
	"fmt"
	"strings"

	telemetry "sensor-stream/internal/telemetry/domain"
)

// Format is a downloadable report format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts "xlsx" or "pdf", case-insensitively. Empty means xlsx.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("%w: format must be xlsx or pdf, got %q", telemetry.ErrInvalidArgument, raw)
	}
}

// ContentType is the response media type.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Filename builds an attachment name with the format's extension.
func (f Format) Filename(base string) string {
	return base + "." + string(f)
}
