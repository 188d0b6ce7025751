package services

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"

	"enom_tracker/models"
)

// PreviewLimit число строк в режиме предпросмотра
const PreviewLimit = 10

var (
	siteCodePattern  = regexp.MustCompile(`[A-Z]{3}\d{4}`)
	txtDelimiters    = []rune{'\t', ',', '|'}
	descriptionTrims = " \t-:|,;"
)

// ParseResult нормализованные строки файла и число отброшенных строк
type ParseResult struct {
	Drafts  []AlarmDraft `json:"drafts"`
	Skipped int          `json:"skipped"`
}

// ParseAlarmFile разбирает загруженный файл аварий по расширению filename.
// В режиме preview возвращаются только первые PreviewLimit записей.
func ParseAlarmFile(r io.Reader, filename string, preview bool) (*ParseResult, error) {
	var (
		result *ParseResult
		err    error
	)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		result, err = parseDelimited(r, ',')
	case ".xlsx":
		result, err = parseWorkbook(r)
	case ".xls":
		return nil, Validationf("формат .xls не поддерживается, сохраните файл как .xlsx")
	case ".txt":
		result, err = parseText(r)
	default:
		return nil, Validationf("неподдерживаемый формат файла: %s", filepath.Ext(filename))
	}
	if err != nil {
		return nil, err
	}

	if preview && len(result.Drafts) > PreviewLimit {
		result.Drafts = result.Drafts[:PreviewLimit]
	}
	return result, nil
}

func parseDelimited(r io.Reader, delimiter rune) (*ParseResult, error) {
	rows, err := readDelimited(r, delimiter)
	if err != nil {
		return nil, Validationf("ошибка чтения файла: %v", err)
	}
	return normalizeRows(rows)
}

func readDelimited(r io.Reader, delimiter rune) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	return reader.ReadAll()
}

func parseWorkbook(r io.Reader) (*ParseResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, Validationf("не удалось открыть Excel файл: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, Validationf("Excel файл не содержит листов")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, Validationf("ошибка чтения листа %s: %v", sheets[0], err)
	}
	return normalizeRows(rows)
}

// parseText сначала пробует табличный разбор с разными разделителями,
// затем ищет коды сайтов в каждой строке
func parseText(r io.Reader) (*ParseResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Validationf("ошибка чтения файла: %v", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	// Разделитель подходит, если делит заголовок на колонки и находится колонка сайта
	header := firstLine(data)
	for _, delimiter := range txtDelimiters {
		if len(splitHeader(header, delimiter)) < 2 {
			continue
		}
		if result, err := parseDelimited(bytes.NewReader(data), delimiter); err == nil {
			return result, nil
		}
	}

	return parseFreeText(data)
}

func firstLine(data []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return scanner.Text()
		}
	}
	return ""
}

func splitHeader(header string, delimiter rune) []string {
	fields, err := readDelimited(strings.NewReader(header), delimiter)
	if err != nil || len(fields) == 0 {
		return nil
	}
	return fields[0]
}

func parseFreeText(data []byte) (*ParseResult, error) {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, Validationf("файл пуст")
	}

	// Первая строка без кода сайта считается заголовком
	if !siteCodePattern.MatchString(lines[0]) {
		lines = lines[1:]
	}

	result := &ParseResult{Drafts: []AlarmDraft{}}
	for _, line := range lines {
		code := siteCodePattern.FindString(line)
		if code == "" {
			result.Skipped++
			continue
		}
		description := strings.Trim(strings.Replace(line, code, "", 1), descriptionTrims)
		result.Drafts = append(result.Drafts, AlarmDraft{
			SiteID:      code,
			Description: describe(code, description),
		})
	}
	if len(result.Drafts) == 0 {
		return nil, Validationf("в файле не найдено ни одного кода сайта")
	}
	return result, nil
}

// normalizeRows приводит табличные строки (первая строка заголовок) к AlarmDraft
func normalizeRows(rows [][]string) (*ParseResult, error) {
	if len(rows) == 0 {
		return nil, Validationf("файл пуст")
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	siteCol := findSiteColumn(header)
	if siteCol < 0 {
		return nil, Validationf("файл должен содержать колонку site_id")
	}
	descCol := -1
	for i, h := range header {
		if strings.EqualFold(h, "description") && i != siteCol {
			descCol = i
			break
		}
	}

	result := &ParseResult{Drafts: []AlarmDraft{}}
	for _, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		code := strings.TrimSpace(cell(row, siteCol))
		if !models.IsValidSiteCode(code) {
			result.Skipped++
			continue
		}

		var description string
		if descCol >= 0 {
			description = strings.TrimSpace(cell(row, descCol))
		} else {
			var parts []string
			for i := range header {
				if i == siteCol {
					continue
				}
				if v := strings.TrimSpace(cell(row, i)); v != "" {
					parts = append(parts, v)
				}
			}
			description = strings.Join(parts, " - ")
		}

		result.Drafts = append(result.Drafts, AlarmDraft{SiteID: code, Description: describe(code, description)})
	}
	return result, nil
}

// findSiteColumn колонка site_id, иначе первая колонка, в названии которой есть "site" или "id"
func findSiteColumn(header []string) int {
	for i, h := range header {
		if h == "site_id" {
			return i
		}
	}
	for i, h := range header {
		lower := strings.ToLower(h)
		if strings.Contains(lower, "site") || strings.Contains(lower, "id") {
			return i
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func describe(code, description string) string {
	if description == "" {
		return fmt.Sprintf("Issue reported for %s", code)
	}
	return description
}
