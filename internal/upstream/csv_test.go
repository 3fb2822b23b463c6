package upstream

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"atcwatch/pkg/logx"
)

func TestParseEventsCSV(t *testing.T) {
	text := strings.Join([]string{
		"container_id,location_id,item_nbr,item_desc,vendor_name,delivery_number,shift_label,case_qty,rec_dt",
		"C1,R10,8881,canned beans,ACME,D100,Shift A1,12.5,2026-03-02 09:15:00",
		"NULL,R11,8882,soup,ACME,D100,Shift A1,1,2026-03-02 09:16:00",
		"   ,R12,8883,rice,ACME,D100,Shift A1,1,2026-03-02 09:17:00",
		"C2,EOF,NULL,NULL,NULL,D200,Shift A2,NULL,NULL",
	}, "\n")

	rows, err := ParseEventsCSV(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("blank and NULL containers must be dropped, got %d rows", len(rows))
	}

	first := rows[0]
	if first.ContainerID != "C1" || first.DeliveryNumber != "D100" {
		t.Fatalf("bad first row: %+v", first)
	}
	if first.CaseQty != 12.5 {
		t.Fatalf("case qty: %v", first.CaseQty)
	}
	want := time.Date(2026, 3, 2, 9, 15, 0, 0, time.Local)
	if !first.ReceivedAt.Equal(want) {
		t.Fatalf("rec_dt: %v", first.ReceivedAt)
	}

	second := rows[1]
	if second.ItemNbr != "" || second.ItemDesc != "" || second.VendorName != "" {
		t.Fatalf("NULL fields must decode empty: %+v", second)
	}
	if second.CaseQty != 0 || !second.ReceivedAt.IsZero() {
		t.Fatalf("NULL qty/timestamp must decode zero: %+v", second)
	}
}

func TestParseEventsCSVEmptyAndHeaderOnly(t *testing.T) {
	if rows, err := ParseEventsCSV(""); err != nil || rows != nil {
		t.Fatalf("empty input: rows=%v err=%v", rows, err)
	}
	rows, err := ParseEventsCSV("container_id,location_id\n")
	if err != nil || len(rows) != 0 {
		t.Fatalf("header-only input: rows=%v err=%v", rows, err)
	}
}

func TestParseTimestampVariants(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-02 09:15:00", time.Date(2026, 3, 2, 9, 15, 0, 0, time.Local)},
		{"2026-03-02 09:15", time.Date(2026, 3, 2, 9, 15, 0, 0, time.Local)},
		{"2026-03-02 09:15:00.123456", time.Date(2026, 3, 2, 9, 15, 0, 0, time.Local)},
		{"2026-03-02T09:15:00Z", time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)},
		{"garbage", time.Time{}},
		{"", time.Time{}},
	}
	for _, tc := range cases {
		got := parseTimestamp(tc.in)
		if !got.Equal(tc.want) {
			t.Errorf("parseTimestamp(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestBQClientRendersTemplateAndParsesOutput(t *testing.T) {
	dir := t.TempDir()

	tplPath := filepath.Join(dir, "query.sql")
	tpl := "SELECT * FROM events WHERE facility = '{{.FacilityID}}' AND age <= {{.WindowMinutes}}"
	if err := os.WriteFile(tplPath, []byte(tpl), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	bqPath := filepath.Join(dir, "bq")
	if err := os.WriteFile(bqPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	c := NewBQClient(BQConfig{BqPath: bqPath, SQLTemplate: tplPath, Project: "wh-prod"}, logx.Nop())
	var gotSQL string
	var gotArgv []string
	c.runner = func(ctx context.Context, argv []string, stdin string) (string, error) {
		gotArgv = argv
		gotSQL = stdin
		return "container_id,delivery_number\nC1,D100\n", nil
	}

	end := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	rows, err := c.Fetch(context.Background(), "6094", end.Add(-60*time.Minute), end)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 1 || rows[0].ContainerID != "C1" {
		t.Fatalf("rows: %+v", rows)
	}
	if gotSQL != "SELECT * FROM events WHERE facility = '6094' AND age <= 60" {
		t.Fatalf("rendered sql: %q", gotSQL)
	}
	joined := strings.Join(gotArgv, " ")
	for _, want := range []string{bqPath, "query", "--format=csv", "--project_id=wh-prod"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("argv missing %q: %v", want, gotArgv)
		}
	}
}

func TestBQClientMissingConfiguredPath(t *testing.T) {
	dir := t.TempDir()
	tplPath := filepath.Join(dir, "query.sql")
	if err := os.WriteFile(tplPath, []byte("SELECT 1"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	c := NewBQClient(BQConfig{BqPath: filepath.Join(dir, "no-such-bq"), SQLTemplate: tplPath}, logx.Nop())
	if _, err := c.Fetch(context.Background(), "6094", time.Now().Add(-time.Hour), time.Now()); err == nil {
		t.Fatalf("missing bq_path must fail, not fall back to PATH")
	}
}
