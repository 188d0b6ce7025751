package services

import (
	"fmt"
	"io"
	"sort"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"enom_tracker/models"
)

// ExportService выгрузка отчетов в Excel и PDF
type ExportService struct {
	*Base
	Priority *PriorityService
}

func NewExportService(base *Base, priority *PriorityService) *ExportService {
	return &ExportService{Base: base, Priority: priority}
}

var backlogHeaders = []string{"Site ID", "Name", "Kabupaten", "Tower Owner", "Priority Score", "Open Alarms"}

// WriteBacklogWorkbook записывает в w Excel файл со списком сайтов без плана
func (s *ExportService) WriteBacklogWorkbook(w io.Writer) (int, error) {
	entries, err := s.Priority.SitesNeedingPlan(0)
	if err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.Logger.Warn("failed to close workbook", zap.Error(err))
		}
	}()

	sheetName := "Backlog"
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return 0, err
	}

	for i, header := range backlogHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
	}
	for rowIdx, e := range entries {
		values := []interface{}{e.Site.SiteCode, e.Site.Name, e.Site.Region, e.Site.TowerOwner, e.Score, e.OpenAlarms}
		for colIdx, v := range values {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			f.SetCellValue(sheetName, cell, v)
		}
	}

	endCell, _ := excelize.CoordinatesToCellName(len(backlogHeaders), len(entries)+1)
	if err := f.AutoFilter(sheetName, "A1:"+endCell, []excelize.AutoFilterOptions{}); err != nil {
		return 0, err
	}

	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("ошибка записи Excel файла: %w", err)
	}
	return len(entries), nil
}

var planHeaders = []string{"Order", "Site", "Planned Actions", "Duration (min)", "Assignee", "Updated Actions", "Performed"}

// WritePlanWorkbook записывает дневной план в Excel файл (план должен быть загружен с сайтами)
func (s *ExportService) WritePlanWorkbook(plan *models.DailyPlan, w io.Writer) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.Logger.Warn("failed to close workbook", zap.Error(err))
		}
	}()

	sheetName := "Plan " + plan.PlanDate.Format("2006-01-02")
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	for i, header := range planHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
	}
	for rowIdx, ps := range plan.PlannedSites {
		site := ""
		if ps.Site != nil {
			site = ps.Site.GetDisplayName()
		}
		performed := "No"
		if ps.IsPerformed() {
			performed = "Yes"
		}
		values := []interface{}{ps.VisitOrder, site, ps.PlannedActions, ps.EstimatedDuration, ps.AssigneeLabel, ps.UpdatedActions, performed}
		for colIdx, v := range values {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			f.SetCellValue(sheetName, cell, v)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("ошибка записи Excel файла: %w", err)
	}
	return nil
}

// WriteDashboardPDF записывает сводку дашборда в PDF
func (s *ExportService) WriteDashboardPDF(summary *DashboardSummary, w io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "ENOM Operations Dashboard")
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 9)
	pdf.Cell(40, 6, fmt.Sprintf("Generated %s (%s)", summary.GeneratedAt.Format("2006-01-02 15:04 UTC"), summary.Zone))
	pdf.Ln(10)

	section := func(title string) {
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(40, 8, title)
		pdf.Ln(8)
		pdf.SetFont("Arial", "", 9)
	}
	row := func(label string, value interface{}) {
		pdf.CellFormat(80, 6, label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%v", value), "1", 1, "R", false, 0, "")
	}

	section("Ticket status")
	for _, st := range models.TicketStatuses {
		row(string(st), summary.Snapshot[st])
	}
	pdf.Ln(4)

	section("Last 30 days vs previous 30 days")
	cur, prev := summary.Current, summary.Previous
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(80, 6, "Metric", "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 6, "Current", "1", 0, "R", false, 0, "")
	pdf.CellFormat(40, 6, "Previous", "1", 1, "R", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	compare := func(label string, c, p interface{}) {
		pdf.CellFormat(80, 6, label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%v", c), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%v", p), "1", 1, "R", false, 0, "")
	}
	compare("Tickets created", cur.TotalTickets, prev.TotalTickets)
	compare("Avg resolution (h)", cur.AvgResolutionHours, prev.AvgResolutionHours)
	compare("Alarm response score", cur.AlarmResponseScore, prev.AlarmResponseScore)
	compare("SLA resolution rate (%)", cur.SLAResolutionRate, prev.SLAResolutionRate)
	compare("Plan compliance rate (%)", cur.PlanComplianceRate, prev.PlanComplianceRate)
	pdf.Ln(4)

	section("Top sites")
	for _, sc := range cur.TopSites {
		row(fmt.Sprintf("%s %s", sc.SiteCode, sc.Name), sc.Count)
	}
	pdf.Ln(4)

	section("Tickets per day")
	for _, p := range summary.Trend {
		row(p.Date, p.Count)
	}
	pdf.Ln(4)

	section(fmt.Sprintf("Workload (balance %.1f)", summary.Workload.BalanceScore))
	techs := append([]TechnicianLoad(nil), summary.Workload.Technicians...)
	sort.Slice(techs, func(i, j int) bool { return techs[i].Total > techs[j].Total })
	for _, t := range techs {
		row(t.Username, fmt.Sprintf("%d (%d plan / %d tickets)", t.Total, t.PlannedSites, t.ActiveTickets))
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("ошибка формирования PDF: %w", err)
	}
	return nil
}
