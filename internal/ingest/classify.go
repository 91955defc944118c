package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

// Urgency keyword tiers, checked in rank order; first match wins.
var urgencyTiers = []struct {
	re      *regexp.Regexp
	urgency int
}{
	{regexp.MustCompile(`(?i)urgent|asap|immediately|emergency|today|now|quick`), 9},
	{regexp.MustCompile(`(?i)soon|this week|deadline|time sensitive`), 7},
	{regexp.MustCompile(`(?i)interested|looking for|need|want|inquiry`), 5},
}

// classifyUrgency scans the message text against the keyword tiers.
// No match yields the floor urgency of 3.
func classifyUrgency(text string) int {
	for _, tier := range urgencyTiers {
		if tier.re.MatchString(text) {
			return tier.urgency
		}
	}
	return 3
}

// intentKeywords maps each intent tag to its trigger keywords.
// Membership is additive: a message can carry several tags.
var intentKeywords = map[string][]string{
	"buying_intent":     {"buy", "buying", "purchase", "looking to buy", "home search"},
	"selling_intent":    {"sell", "selling", "list my", "listing my"},
	"rental_intent":     {"rent", "rental", "lease", "leasing"},
	"investment_intent": {"invest", "investment", "roi", "cash flow", "rental income"},
	"financing_need":    {"mortgage", "financing", "loan", "pre-approval", "preapproval"},
	"agent_request":     {"agent", "realtor", "representation"},
	"valuation_request": {"valuation", "appraisal", "worth", "home value"},
	"market_research":   {"market", "trends", "prices in", "comps"},
}

// intentTagOrder keeps output deterministic for audits and tests.
var intentTagOrder = []string{
	"buying_intent", "selling_intent", "rental_intent", "investment_intent",
	"financing_need", "agent_request", "valuation_request", "market_research",
}

func extractIntentSignals(text string) []string {
	lower := strings.ToLower(text)
	var tags []string
	for _, tag := range intentTagOrder {
		for _, kw := range intentKeywords[tag] {
			if strings.Contains(lower, kw) {
				tags = append(tags, tag)
				break
			}
		}
	}
	return tags
}

var budgetRe = regexp.MustCompile(`\$[\d,]+(\s*[-–—]\s*\$?[\d,]+)?|[\d,]{4,}(\s*[-–—]\s*\$?[\d,]+)?`)
var numberRe = regexp.MustCompile(`[\d,]+`)

// parseBudget extracts a budget range from the text. A single value v
// widens to [0.8v, 1.2v]; an explicit range is taken as-is.
func parseBudget(text string) (min, max float64, ok bool) {
	m := budgetRe.FindString(text)
	if m == "" {
		return 0, 0, false
	}
	nums := numberRe.FindAllString(m, 2)
	if len(nums) == 0 {
		return 0, 0, false
	}
	v1, err := strconv.ParseFloat(strings.ReplaceAll(nums[0], ",", ""), 64)
	if err != nil || v1 == 0 {
		return 0, 0, false
	}
	if len(nums) == 2 {
		v2, err := strconv.ParseFloat(strings.ReplaceAll(nums[1], ",", ""), 64)
		if err == nil && v2 >= v1 {
			return v1, v2, true
		}
	}
	return v1 * 0.8, v1 * 1.2, true
}

// timelineBuckets maps keyword triggers to canonical timeline buckets,
// most specific first.
var timelineBuckets = []struct {
	keywords []string
	bucket   string
}{
	{[]string{"immediately", "right away", "asap", "urgent"}, "immediate"},
	{[]string{"month or two", "1-2 months", "next month", "few weeks"}, "1-2 months"},
	{[]string{"3 months", "three months", "this quarter"}, "3 months"},
	{[]string{"6 months", "six months", "half a year"}, "6 months"},
	{[]string{"year", "12 months", "next spring", "eventually"}, "1 year"},
}

func parseTimeline(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, b := range timelineBuckets {
		for _, kw := range b.keywords {
			if strings.Contains(lower, kw) {
				return b.bucket, true
			}
		}
	}
	return "", false
}
