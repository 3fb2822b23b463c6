package upstream

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"atcwatch/internal/event"
)

// ParseEventsCSV decodes bq's CSV output (header row first) into raw
// events. Rows with a blank container ID are dropped; the literal string
// "NULL" counts as empty.
func ParseEventsCSV(text string) ([]event.Raw, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	idx := map[string]int{}
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var out []event.Raw
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv row: %w", err)
		}

		get := func(name string) string {
			i, ok := idx[name]
			if !ok || i >= len(rec) {
				return ""
			}
			v := strings.TrimSpace(rec[i])
			if strings.EqualFold(v, "NULL") {
				return ""
			}
			return v
		}

		e := event.Raw{
			ContainerID:    get("container_id"),
			LocationID:     get("location_id"),
			ItemNbr:        get("item_nbr"),
			ItemDesc:       get("item_desc"),
			VendorName:     get("vendor_name"),
			DeliveryNumber: get("delivery_number"),
			ShiftLabel:     get("shift_label"),
			CaseQty:        parseFloat(get("case_qty")),
			ReceivedAt:     parseTimestamp(get("rec_dt")),
		}
		if e.ContainerID == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseTimestamp decodes warehouse DATETIME strings best-effort. A zero
// time means the value was missing or unparseable.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}

	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	// Fractional seconds: keep the whole-second prefix.
	if i := strings.IndexByte(s, '.'); i > 0 {
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", s[:i], time.Local); err == nil {
			return t
		}
	}
	if t, err := time.Parse(time.RFC3339, strings.Replace(s, " ", "T", 1)); err == nil {
		return t
	}
	return time.Time{}
}
