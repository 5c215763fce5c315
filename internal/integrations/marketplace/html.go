package marketplace

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/BearBump/ParcelSync/internal/classify"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/shopspring/decimal"
)

// The service emits hand-built markup with unbalanced quotes
// (class='order-id>'224004746255220), so rows are taken apart with
// tolerant patterns instead of a DOM.
var (
	reErrorBlock = regexp.MustCompile(`(?is)<div[^>]*class=['"]cookie-error['"][^>]*data-idx=['"]?(\d+)['"]?[^>]*>.*?</div>`)
	reTable      = regexp.MustCompile(`(?is)<table([^>]*)>(.*?)</table>`)
	reTbody      = regexp.MustCompile(`(?is)<tbody[^>]*>(.*?)</tbody>`)
	reRow        = regexp.MustCompile(`(?is)<tr(\s[^>]*)?>(.*?)</tr>`)
	reOrdinal    = regexp.MustCompile(`(?i)data-idx=['"]?(\d+)`)

	reOrderID  = regexp.MustCompile(`(?i)order-id['"]?>['"]*(\d+)`)
	reTracking = regexp.MustCompile(`(?i)tracking['"]?>\s*([A-Z0-9]+)\s*<`)
	reStatus   = regexp.MustCompile(`(?i)class=['"]status-badge['"]>([^<]+)`)
	reShop     = regexp.MustCompile(`(?i)class=['"]shop-badge['"]>([^<]+)`)
	reName     = regexp.MustCompile(`(?i)class=['"]addr-name['"]><strong>([^<]+)`)
	rePhone    = regexp.MustCompile(`(?is)class=['"]addr-phone['"][^>]*>.*?(\d{10,12})`)
	reProduct  = regexp.MustCompile(`(?is)class=['"]prod-list['"].*?<span>([^<]+)`)
	reModel    = regexp.MustCompile(`(?i)<small>\(([^)]+)\)</small>`)
	reAmount   = regexp.MustCompile(`(?i)x\s*(\d+)</small>`)
	reImage    = regexp.MustCompile(`(?is)class=['"]prod-list['"].*?<img[^>]+src=['"]([^'"]+)`)
	reImageID  = regexp.MustCompile(`/file/([^'"?]+)`)
	rePrice    = regexp.MustCompile(`(?i)class=['"]price-value-total['"]>([^<]+)`)
	reNonDigit = regexp.MustCompile(`\D`)
)

const defaultStatusText = "Đang xử lý"

func parseHTML(doc string) (BatchResult, error) {
	var res BatchResult

	for _, m := range reErrorBlock.FindAllStringSubmatch(doc, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && hasExpiredMarker(m[0]) {
			res.Expired = append(res.Expired, n)
		}
	}
	rest := reErrorBlock.ReplaceAllString(doc, "")
	if hasExpiredMarker(rest) {
		return BatchResult{}, ErrCredentialExpired
	}

	if !strings.Contains(rest, "data-table") || !strings.Contains(rest, "order-id") {
		return res, nil
	}

	tables := reTable.FindAllStringSubmatch(rest, -1)
	if len(tables) == 0 {
		res.Drafts = parseTable(rest, 0)
		return res, nil
	}
	for _, t := range tables {
		res.Drafts = append(res.Drafts, parseTable(t[2], ordinalOf(t[1]))...)
	}
	return res, nil
}

func parseTable(table string, defaultOrdinal int) []models.OrderDraft {
	var out []models.OrderDraft
	for _, tb := range reTbody.FindAllStringSubmatch(table, -1) {
		for _, row := range reRow.FindAllStringSubmatch(tb[1], -1) {
			if strings.Contains(row[2], "<th") {
				continue
			}
			d, ok := parseRow(row[2])
			if !ok {
				continue
			}
			d.Ordinal = ordinalOf(row[1])
			if d.Ordinal == 0 {
				d.Ordinal = defaultOrdinal
			}
			out = append(out, d)
		}
	}
	return out
}

func ordinalOf(attrs string) int {
	m := reOrdinal.FindStringSubmatch(attrs)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

func parseRow(row string) (models.OrderDraft, bool) {
	var d models.OrderDraft

	d.ID = first(reOrderID, row)
	if len(d.ID) < MinOrderIDLength {
		return d, false
	}

	d.TrackingCode = strings.ToUpper(first(reTracking, row))
	if d.TrackingCode == "" {
		d.TrackingCode = models.TrackingCodeUnknownVI
	}
	d.StatusText = first(reStatus, row)
	if d.StatusText == "" {
		d.StatusText = defaultStatusText
	}
	d.Shop = first(reShop, row)
	d.RecipientName = first(reName, row)
	d.RecipientPhone = first(rePhone, row)

	d.Product = first(reProduct, row)
	if d.Product == "" {
		d.Product = ProductPlaceholder
	}
	if model := first(reModel, row); model != "" {
		d.Product += " - " + model
	}

	d.Quantity = 1
	if n, err := strconv.Atoi(first(reAmount, row)); err == nil && n > 0 {
		d.Quantity = n
	}

	if img := first(reImage, row); img != "" {
		if id := first(reImageID, img); id != "" {
			img = id
		}
		d.Image = img
	}

	d.TotalPrice = decimal.Zero
	if digits := reNonDigit.ReplaceAllString(first(rePrice, row), ""); digits != "" {
		if p, err := decimal.NewFromString(digits); err == nil {
			d.TotalPrice = p
		}
	}
	d.UnitPrice = d.TotalPrice.Div(decimal.NewFromInt(int64(d.Quantity))).Round(2)

	v := classify.Classify(classify.SourceMarketplace, d.StatusText)
	d.Completed = v.Completed
	d.Cancelled = v.Cancelled
	return d, true
}

func first(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(m[1]))
}
