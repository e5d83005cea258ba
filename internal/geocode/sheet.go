package geocode

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

// ErrBadSheetURL marks spreadsheet links the exporter cannot rewrite.
var ErrBadSheetURL = errors.New("invalid spreadsheet url")

var (
	sheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)
	gidPattern     = regexp.MustCompile(`gid=([0-9]+)`)
)

// CSVExportURL rewrites a Google Sheets link into its CSV export form.
// Published links (/pub) and edit links (/edit#gid=N) are both accepted;
// links that already export CSV pass through unchanged.
func CSVExportURL(sheetURL string) (string, error) {
	if strings.Contains(sheetURL, "/pub?output=csv") || strings.Contains(sheetURL, "/export?format=csv") {
		return sheetURL, nil
	}
	if strings.Contains(sheetURL, "/pub") {
		base, _, _ := strings.Cut(sheetURL, "?")
		return base + "?output=csv", nil
	}

	idMatch := sheetIDPattern.FindStringSubmatch(sheetURL)
	if idMatch == nil {
		return "", ErrBadSheetURL
	}
	gid := "0"
	if gidMatch := gidPattern.FindStringSubmatch(sheetURL); gidMatch != nil {
		gid = gidMatch[1]
	}
	return fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/export?format=csv&gid=%s", idMatch[1], gid), nil
}

// FetchAddresses downloads the sheet as CSV and extracts the address column
// (the first column). A first row reading "address" or "住所" is treated as a
// header and skipped; blank cells are dropped.
func FetchAddresses(ctx context.Context, httpc *http.Client, sheetURL string) ([]string, error) {
	csvURL, err := CSVExportURL(sheetURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, csvURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build sheet request: %w", err)
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sheet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch sheet: status %d", resp.StatusCode)
	}

	return parseAddressColumn(resp.Body)
}

func parseAddressColumn(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var addresses []string
	first := true
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse sheet csv: %w", err)
		}
		if len(row) == 0 {
			continue
		}
		address := strings.TrimSpace(row[0])
		if first {
			first = false
			if lower := strings.ToLower(address); lower == "address" || address == "住所" {
				continue
			}
		}
		if address == "" {
			continue
		}
		addresses = append(addresses, address)
	}
	return addresses, nil
}
