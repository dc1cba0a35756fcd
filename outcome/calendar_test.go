package outcome

import (
	"net/url"
	"strings"
	"testing"
)

func TestAddMinutesCarriesAcrossDayBoundary(t *testing.T) {
	y, mo, d, h, mi := addMinutes(2025, 2, 25, 23, 0, 120)
	got := stamp(y, mo, d, h, mi)
	want := "20250226T010000"
	if got != want {
		t.Fatalf("addMinutes: got %s, want %s", got, want)
	}
}

func TestAddMinutesCarriesAcrossYearBoundary(t *testing.T) {
	y, mo, d, h, mi := addMinutes(2025, 12, 31, 23, 30, 90)
	got := stamp(y, mo, d, h, mi)
	want := "20260101T010000"
	if got != want {
		t.Fatalf("addMinutes: got %s, want %s", got, want)
	}
}

func TestAddMinutesLeapYearFeb29(t *testing.T) {
	y, mo, d, h, mi := addMinutes(2024, 2, 28, 23, 0, 60)
	got := stamp(y, mo, d, h, mi)
	want := "20240229T000000"
	if got != want {
		t.Fatalf("addMinutes: got %s, want %s", got, want)
	}
}

func TestBuildCalendarURLDefaultsDurationTo90Minutes(t *testing.T) {
	b := BookingDetails{
		Confirmed: true,
		Restaurant: "Кафе Пушкин",
		Date:       "2025-02-25",
		Time:       "23:00",
	}
	raw, ok := buildCalendarURL(b)
	if !ok {
		t.Fatal("expected a valid calendar URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid URL: %v", err)
	}
	q := u.Query()
	dates := q.Get("dates")
	if !strings.HasSuffix(dates, "20250226T003000") {
		t.Fatalf("expected end stamp with default 90min duration, got %s", dates)
	}
	if q.Get("action") != "TEMPLATE" {
		t.Fatalf("expected action=TEMPLATE, got %s", q.Get("action"))
	}
}

func TestValidBookingRejectsMalformedTime(t *testing.T) {
	b := BookingDetails{Confirmed: true, Date: "2025-02-25", Time: "25:99"}
	if validBooking(b) {
		t.Fatal("expected out-of-range time to be rejected")
	}
}

func TestBuildCalendarURLRejectsMalformedDate(t *testing.T) {
	b := BookingDetails{Confirmed: true, Date: "not-a-date", Time: "23:00"}
	if _, ok := buildCalendarURL(b); ok {
		t.Fatal("expected malformed date to be rejected")
	}
}
