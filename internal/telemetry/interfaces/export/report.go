package export

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"sensor-stream/internal/analytics/domain/statistic"
	telemetry "sensor-stream/internal/telemetry/domain"
)

const sampleTimeLayout = "2006-01-02 15:04:05.000"

// RenderHistory renders the history of one sensor in the given format.
func RenderHistory(format Format, sensorID int64, samples []telemetry.Sample, generatedAt time.Time) ([]byte, error) {
	if format == FormatPDF {
		return BuildHistoryPDF(sensorID, samples, generatedAt)
	}
	return BuildHistoryXLSX(sensorID, samples, generatedAt)
}

// RenderStats renders temperature statistics keyed by sensor in the given format.
func RenderStats(format Format, stats map[string]statistic.Summary, generatedAt time.Time) ([]byte, error) {
	if format == FormatPDF {
		return BuildStatsPDF(stats, generatedAt)
	}
	return BuildStatsXLSX(stats, generatedAt)
}

// BuildHistoryPDF renders a sample table for one sensor.
func BuildHistoryPDF(sensorID int64, samples []telemetry.Sample, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Sensor History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Sensor: %s", telemetry.SensorKey(sensorID)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Samples: %d", len(samples)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	headers := []string{"Time", "Temperature", "Humidity", "Pressure", "Value", "Anomaly"}
	widths := []float64{55, 35, 35, 35, 45, 25}
	pdf.SetFont("Arial", "B", 10)
	for i, header := range headers {
		pdf.CellFormat(widths[i], 6, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, sample := range samples {
		pdf.CellFormat(widths[0], 6, sampleTime(sample), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[1], 6, fmt.Sprintf("%.3f", sample.Temperature), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 6, fmt.Sprintf("%.3f", sample.Humidity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 6, fmt.Sprintf("%.3f", sample.Pressure), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], 6, fmt.Sprintf("%.4f", sample.Value), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[5], 6, fmt.Sprintf("%t", sample.Anomaly), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	return outputPDF(pdf)
}

// BuildHistoryXLSX renders a sample sheet for one sensor.
func BuildHistoryXLSX(sensorID int64, samples []telemetry.Sample, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "history"
	f.SetSheetName("Sheet1", sheet)

	_ = f.SetCellValue(sheet, "A1", "Sensor")
	_ = f.SetCellValue(sheet, "B1", telemetry.SensorKey(sensorID))
	_ = f.SetCellValue(sheet, "A2", "Generated")
	_ = f.SetCellValue(sheet, "B2", generatedAt.Format(time.RFC3339))

	header := []any{"Timestamp (ms)", "Time", "Temperature", "Humidity", "Pressure", "Value", "Anomaly"}
	if err := f.SetSheetRow(sheet, "A4", &header); err != nil {
		return nil, err
	}
	for i, sample := range samples {
		row := []any{
			sample.Timestamp,
			sampleTime(sample),
			sample.Temperature,
			sample.Humidity,
			sample.Pressure,
			sample.Value,
			sample.Anomaly,
		}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+5), &row); err != nil {
			return nil, err
		}
	}

	return outputXLSX(f)
}

// BuildStatsPDF renders one summary row per sensor.
func BuildStatsPDF(stats map[string]statistic.Summary, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Temperature Statistics")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Sensors: %d", len(stats)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Sensor", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Count", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Min", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Max", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Average", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, key := range slices.Sorted(maps.Keys(stats)) {
		summary := stats[key]
		pdf.CellFormat(40, 6, key, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%d", summary.Count), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.3f", summary.Min), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.3f", summary.Max), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.3f", summary.Average), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	return outputPDF(pdf)
}

// BuildStatsXLSX renders one summary row per sensor, sorted by key.
func BuildStatsXLSX(stats map[string]statistic.Summary, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "statistics"
	f.SetSheetName("Sheet1", sheet)

	_ = f.SetCellValue(sheet, "A1", "Temperature Statistics")
	_ = f.SetCellValue(sheet, "A2", "Generated")
	_ = f.SetCellValue(sheet, "B2", generatedAt.Format(time.RFC3339))

	header := []any{"Sensor", "Count", "Sum", "Min", "Max", "Average"}
	if err := f.SetSheetRow(sheet, "A4", &header); err != nil {
		return nil, err
	}
	for i, key := range slices.Sorted(maps.Keys(stats)) {
		summary := stats[key]
		row := []any{key, summary.Count, summary.Sum, summary.Min, summary.Max, summary.Average}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+5), &row); err != nil {
			return nil, err
		}
	}

	return outputXLSX(f)
}

func sampleTime(sample telemetry.Sample) string {
	return time.UnixMilli(sample.Timestamp).Format(sampleTimeLayout)
}

func outputPDF(pdf *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func outputXLSX(f *excelize.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
