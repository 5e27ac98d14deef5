// Package message extracts title, main URL and content from channel messages.
package message

import (
	"net/url"
	"regexp"
	"strings"

	"tgwatch/internal/model"
)

// DefaultPriorityDomains are preferred, in order, when selecting the main URL.
var DefaultPriorityDomains = []string{"linux.do", "nodeseek.com", "nodeseek.net"}

// DefaultAnnounceDomain is the forum whose channel posts "<actor> 在 <subject> (<url>) 中发帖".
const DefaultAnnounceDomain = "linux.do"

var urlPattern = regexp.MustCompile("https?://[^\\s<>\"{}|\\\\^`\\[\\]]+")

// Parser turns raw message text into a model.ParsedMessage. It is safe for concurrent use.
type Parser struct {
	priority []string
	announce *regexp.Regexp
}

// NewParser creates a Parser. Empty arguments fall back to the defaults.
func NewParser(priorityDomains []string, announceDomain string) *Parser {
	if len(priorityDomains) == 0 {
		priorityDomains = DefaultPriorityDomains
	}
	if announceDomain == "" {
		announceDomain = DefaultAnnounceDomain
	}
	domains := make([]string, 0, len(priorityDomains))
	for _, d := range priorityDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}
	return &Parser{
		priority: domains,
		announce: regexp.MustCompile(`^(.+?)\s+在\s+(.+?)\s*\(?(https?://` +
			regexp.QuoteMeta(announceDomain) + `/[^\s)]+)\)?\s*中发帖`),
	}
}

// Parse extracts the structured form of text. It never fails: when no
// structure is recognized it falls back to a generic URL scan.
func (p *Parser) Parse(text string, links []model.LinkAnnotation) model.ParsedMessage {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(strings.TrimSpace(text), "\n")
	first := lines[0]
	rest := strings.TrimSpace(strings.Join(lines[1:], "\n"))

	if m := p.announce.FindStringSubmatch(first); m != nil {
		return model.ParsedMessage{
			Title:   m[1] + " 在 " + m[2] + " 中发帖",
			MainURL: m[3],
			Content: rest,
		}
	}

	for _, l := range links {
		if l.URL != "" && p.mentionsPriorityDomain(l.URL) {
			return model.ParsedMessage{
				Title:   first,
				MainURL: l.URL,
				Content: rest,
			}
		}
	}

	urls := urlPattern.FindAllString(text, -1)
	main := p.selectMainURL(urls)

	parsed := model.ParsedMessage{MainURL: main, Content: text}
	if first != "" {
		parsed.Title = first
		parsed.Content = rest
	}
	for _, u := range urls {
		if u != main {
			parsed.ExternalURLs = append(parsed.ExternalURLs, u)
		}
	}
	return parsed
}

func (p *Parser) mentionsPriorityDomain(u string) bool {
	lower := strings.ToLower(u)
	for _, d := range p.priority {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

// selectMainURL picks the first URL on the highest-priority domain present,
// then the first URL overall.
func (p *Parser) selectMainURL(urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	hosts := make([]string, len(urls))
	for i, u := range urls {
		hosts[i] = hostOf(u)
	}
	for _, d := range p.priority {
		for i, h := range hosts {
			if h == d || strings.HasSuffix(h, "."+d) {
				return urls[i]
			}
		}
	}
	return urls[0]
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
