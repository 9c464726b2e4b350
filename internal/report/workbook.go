package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"wisefido-drowsiness/internal/models"

	"github.com/xuri/excelize/v2"
)

// 工作表名称
const (
	SamplesSheet = "Samples"
	SummarySheet = "Summary"
)

// SamplesHeader 采样表头
var SamplesHeader = []string{
	"Offset (s)",
	"Eye Openness (%)",
	"Heart Rate (bpm)",
	"Visual Alert",
	"Audible Alert",
	"Steering Angle (deg)",
	"Steering Force (N)",
}

// GenerateSessionWorkbook 生成会话 Excel 文件（采样明细 + 汇总），driver 可为 nil
func GenerateSessionWorkbook(session models.Session, driver *models.Driver, samples []models.Sample) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(SamplesSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := f.SetSheetRow(SamplesSheet, "A1", &SamplesHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	if err := f.SetCellStyle(SamplesSheet, "A1", "G1", headerStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}
	if err := f.SetColWidth(SamplesSheet, "A", "G", 18); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	for i, s := range samples {
		row := []interface{}{
			float64(s.OffsetMs) / 1000,
			s.EyeOpenness,
			s.HeartRate,
			s.VisualAlert,
			s.AudibleAlert,
			optional(s.SteeringAngle),
			optional(s.SteeringForce),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(SamplesSheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write sample row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(SamplesSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	if err := writeSummarySheet(f, session, driver, Summarize(samples)); err != nil {
		f.Close()
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

// SaveSessionWorkbook 生成并保存为 dir/session-<id>.xlsx，返回文件路径
func SaveSessionWorkbook(dir string, session models.Session, driver *models.Driver, samples []models.Sample) (string, error) {
	data, err := GenerateSessionWorkbook(session, driver, samples)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("session-%d.xlsx", session.SessionID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

func writeSummarySheet(f *excelize.File, session models.Session, driver *models.Driver, summary Summary) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	ended := ""
	if session.EndedAt != nil {
		ended = session.EndedAt.Format("2006-01-02 15:04:05")
	}

	name, birth := "", ""
	if driver != nil {
		name = DriverName(*driver)
		if driver.BirthDate != nil {
			birth = driver.BirthDate.Format("2006-01-02")
		}
	}

	rows := [][]interface{}{
		{"Session ID", session.SessionID},
		{"Driver ID", session.DriverID},
		{"Driver", name},
		{"Birth Date", birth},
		{"Started At", session.StartedAt.Format("2006-01-02 15:04:05")},
		{"Ended At", ended},
		{"Annotation", session.Annotation},
		{"Samples", summary.Samples},
		{"Alert Samples", summary.AlertSamples},
		{},
		{"Metric", "Min", "Max", "Mean"},
		statRow("Eye Openness (%)", summary.EyeOpenness),
		statRow("Heart Rate (bpm)", summary.HeartRate),
		statRow("Steering Angle (deg)", summary.SteeringAngle),
		statRow("Steering Force (N)", summary.SteeringForce),
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(SummarySheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
	}
	return f.SetColWidth(SummarySheet, "A", "A", 22)
}

// DriverName 名 + 姓，未登记名字时只用姓
func DriverName(d models.Driver) string {
	if d.FirstName == nil || *d.FirstName == "" {
		return d.LastName
	}
	return *d.FirstName + " " + d.LastName
}

func statRow(name string, s Stat) []interface{} {
	return []interface{}{name, s.Min, s.Max, round2(s.Mean())}
}

func optional(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
