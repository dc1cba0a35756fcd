package outcome

import (
	"net/url"
	"strconv"
	"strings"
)

// buildCalendarURL implements spec.md §4.8 step 4: a Google Calendar
// "TEMPLATE" URL built purely from integer minute arithmetic, never
// touching the host's time zone or any timezone library.
func buildCalendarURL(b BookingDetails) (string, bool) {
	y, mo, d, ok := splitDate(b.Date)
	if !ok {
		return "", false
	}
	h, mi, ok := splitTime(b.Time)
	if !ok {
		return "", false
	}

	duration := b.DurationMinutes
	if duration <= 0 {
		duration = 90
	}

	startStamp := stamp(y, mo, d, h, mi)
	ey, emo, ed, eh, emi := addMinutes(y, mo, d, h, mi, duration)
	endStamp := stamp(ey, emo, ed, eh, emi)

	title := bookingTitle(b)
	location := b.Address
	if location == "" {
		location = b.Restaurant
	}

	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", title)
	q.Set("dates", startStamp+"/"+endStamp)
	q.Set("ctz", "Europe/Moscow")
	q.Set("location", location)

	return "https://calendar.google.com/calendar/render?" + q.Encode(), true
}

func bookingTitle(b BookingDetails) string {
	var parts []string
	if b.Restaurant != "" {
		parts = append(parts, b.Restaurant)
	}
	if b.GuestName != "" {
		parts = append(parts, "на имя "+b.GuestName)
	}
	if b.GuestCount > 0 {
		parts = append(parts, strconv.Itoa(b.GuestCount)+" чел.")
	}
	if len(parts) == 0 {
		return "Бронирование столика"
	}
	return "Бронь: " + strings.Join(parts, ", ")
}

func stamp(y, mo, d, h, mi int) string {
	return pad(y, 4) + pad(mo, 2) + pad(d, 2) + "T" + pad(h, 2) + pad(mi, 2) + "00"
}

func pad(n, width int) string {
	s := strconv.Itoa(n)
	for len(s) < width {
		s = "0" + s
	}
	return s
}

var daysInMonth = [...]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

func isLeap(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

func daysIn(y, mo int) int {
	if mo == 2 && isLeap(y) {
		return 29
	}
	return daysInMonth[mo-1]
}

// addMinutes adds n minutes to (y, mo, d, h, mi) using pure integer
// arithmetic, carrying overflow across hour/day/month/year boundaries.
func addMinutes(y, mo, d, h, mi, n int) (int, int, int, int, int) {
	total := mi + n
	h += total / 60
	mi = total % 60
	if mi < 0 {
		mi += 60
		h--
	}

	dayCarry := h / 24
	h = h % 24
	if h < 0 {
		h += 24
		dayCarry--
	}
	d += dayCarry

	for d > daysIn(y, mo) {
		d -= daysIn(y, mo)
		mo++
		if mo > 12 {
			mo = 1
			y++
		}
	}
	for d < 1 {
		mo--
		if mo < 1 {
			mo = 12
			y--
		}
		d += daysIn(y, mo)
	}

	return y, mo, d, h, mi
}

func splitDate(s string) (y, mo, d int, ok bool) {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return 0, 0, 0, false
	}
	y, err1 := strconv.Atoi(s[0:4])
	mo, err2 := strconv.Atoi(s[5:7])
	d, err3 := strconv.Atoi(s[8:10])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, false
	}
	if mo < 1 || mo > 12 || d < 1 || d > daysIn(y, mo) {
		return 0, 0, 0, false
	}
	return y, mo, d, true
}

func splitTime(s string) (h, mi int, ok bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(s[0:2])
	mi, err2 := strconv.Atoi(s[3:5])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	if h < 0 || h > 23 || mi < 0 || mi > 59 {
		return 0, 0, false
	}
	return h, mi, true
}

func isValidDate(s string) bool {
	_, _, _, ok := splitDate(s)
	return ok
}

func isValidTime(s string) bool {
	_, _, ok := splitTime(s)
	return ok
}
