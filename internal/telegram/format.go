package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/momentumscanner/internal/models"
)

var billion = decimal.New(1, 9)

// Formatter renders alerts as MarkdownV2 messages.
type Formatter struct {
	Location *time.Location
	// ZoneLabel is printed after the timestamp, e.g. "WIB".
	ZoneLabel string
}

// FormatAlert renders one alert.
func (f Formatter) FormatAlert(a models.Alert) string {
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	label := f.ZoneLabel
	if label == "" {
		label = a.DetectedAt.In(loc).Format("MST")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🚀 *\\#%s RSI: %s \\| \\#%d* 🚀\n",
		escapeMarkdownV2(a.Symbol),
		escapeMarkdownV2(fmt.Sprintf("%.2f", a.RSI)),
		a.Sequence)
	b.WriteString("━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "🛡️ vs MA25: *%s*\n", escapeMarkdownV2(fmt.Sprintf("%+.2f%%", a.DeviationPct)))
	fmt.Fprintf(&b, "💰 Price: *Rp %s*\n", escapeMarkdownV2(groupThousands(a.Price)))
	fmt.Fprintf(&b, "🌊 Vol 24h: *Rp %s B*\n", escapeMarkdownV2(a.Volume.Div(billion).StringFixed(2)))
	b.WriteString("━━━━━━━━━━━━━━━━\n")
	b.WriteString("💡 *Status:* Uptrend detected\n")
	fmt.Fprintf(&b, "⏰ %s %s\n", escapeMarkdownV2(a.DetectedAt.In(loc).Format("15:04:05")), escapeMarkdownV2(label))

	return b.String()
}

// groupThousands formats d with "." as the thousands separator and "," as the
// decimal mark.
func groupThousands(d decimal.Decimal) string {
	s := d.String()
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	b.WriteString(sign)
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte(',')
		b.WriteString(frac)
	}
	return b.String()
}
