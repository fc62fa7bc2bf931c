package notifier

import (
	"fmt"
	"strings"

	"viralwatch/internal/detect"
)

// FormatAlert renders a viral event as a Telegram-ready plain-text message.
func FormatAlert(ev detect.ViralEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 Viral spike: @%s\n", ev.Account)
	fmt.Fprintf(&b, "Item %s: +%s views (%s → %s)\n",
		ev.ItemID, groupDigits(ev.Delta), groupDigits(ev.PreviousViews), groupDigits(ev.CurrentViews))
	if desc := strings.TrimSpace(ev.Description); desc != "" {
		if r := []rune(desc); len(r) > 120 {
			desc = string(r[:120]) + "…"
		}
		b.WriteString(desc)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Detected %s", ev.DetectedAt.Format("2006-01-02 15:04 MST"))
	return b.String()
}

// groupDigits renders n with thousands separators, e.g. 1234567 -> "1,234,567".
func groupDigits(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
