package bot

import (
	"fmt"
	"strings"

	"tgwatch/internal/filter"
	"tgwatch/internal/model"
)

const (
	statusActive = "active"
	statusPaused = "paused"

	alertHeader = "🔔 <b>关键词监控通知</b>"

	contentLimit = 500
	linkLimit    = 300
	ellipsis     = "..."
)

var (
	htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

// FormatAlert renders a keyword alert as Telegram HTML.
//
// With both a title and a main URL the title links to the URL and the
// content follows as a preformatted block. With only a URL the raw text
// becomes the link label. Otherwise the raw text is shown as is.
// Text is truncated by runes before escaping so entities are never split.
func FormatAlert(keyword string, parsed model.ParsedMessage, rawText string) string {
	var b strings.Builder
	b.WriteString(alertHeader)
	b.WriteString("\n#")
	b.WriteString(htmlEscaper.Replace(keyword))

	switch {
	case parsed.HasMainURL() && parsed.HasTitle():
		fmt.Fprintf(&b, "\n\n<a href=\"%s\">%s</a>",
			attrEscaper.Replace(parsed.MainURL), htmlEscaper.Replace(parsed.Title))
		if parsed.Content != "" {
			fmt.Fprintf(&b, "\n\n<pre>%s</pre>", htmlEscaper.Replace(truncate(parsed.Content, contentLimit)))
		}
	case parsed.HasMainURL():
		fmt.Fprintf(&b, "\n\n<a href=\"%s\">%s</a>",
			attrEscaper.Replace(parsed.MainURL), htmlEscaper.Replace(truncate(rawText, linkLimit)))
	default:
		b.WriteString("\n\n")
		b.WriteString(htmlEscaper.Replace(truncate(rawText, contentLimit)))
	}
	return b.String()
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + ellipsis
}

// FormatChannelList formats the monitored channels for display.
func FormatChannelList(channels []model.Channel, keywordCounts map[int64]int) string {
	if len(channels) == 0 {
		return "No channels yet. Use /add <channel> to add one."
	}
	var b strings.Builder
	b.WriteString("Monitored channels:\n")
	for _, ch := range channels {
		fmt.Fprintf(&b, "\n#%d %s [%s]\n", ch.ID, channelLabel(&ch), channelStatus(&ch))
		if n := keywordCounts[ch.ID]; n == 0 {
			b.WriteString("   no keywords\n")
		} else {
			fmt.Fprintf(&b, "   %d keyword(s)\n", n)
		}
	}
	return b.String()
}

// FormatChannelInfo formats detailed information about a single channel.
func FormatChannelInfo(ch *model.Channel, keywords []model.Keyword) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s [%s]\n", ch.ID, channelLabel(ch), channelStatus(ch))
	fmt.Fprintf(&b, "Ref: %s\n", ch.Ref)
	if !ch.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "Added: %s\n", ch.CreatedAt.Format("2006-01-02 15:04 UTC"))
	}
	b.WriteString("\n")
	b.WriteString(FormatKeywordList(ch, keywords))
	return b.String()
}

// FormatKeywordList formats the keywords of a channel grouped by rule kind.
func FormatKeywordList(ch *model.Channel, keywords []model.Keyword) string {
	if len(keywords) == 0 {
		return fmt.Sprintf("No keywords for #%d %s.\nUse /kw %d <keyword> to add one.", ch.ID, channelLabel(ch), ch.ID)
	}

	const (
		groupWord    = "Words"
		groupCJK     = "CJK"
		groupRegex   = "Regex"
		groupExclude = "Exclusions"
		groupInvalid = "Invalid"
	)
	groups := make(map[string][]string)
	for _, kw := range keywords {
		rule, ok := filter.Classify(kw.Value)
		if !ok {
			continue
		}
		line := fmt.Sprintf("  K%d: %s", kw.ID, kw.Value)
		switch {
		case rule.Err() != nil:
			groups[groupInvalid] = append(groups[groupInvalid], line)
		case rule.Exclude:
			groups[groupExclude] = append(groups[groupExclude], line+" ("+rule.Kind.String()+")")
		case rule.Kind == filter.KindRegex:
			groups[groupRegex] = append(groups[groupRegex], line)
		case rule.Kind == filter.KindCJK:
			groups[groupCJK] = append(groups[groupCJK], line)
		default:
			groups[groupWord] = append(groups[groupWord], line)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Keywords for #%d %s:\n", ch.ID, channelLabel(ch))
	for _, name := range []string{groupWord, groupCJK, groupRegex, groupExclude, groupInvalid} {
		lines := groups[name]
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", name)
		for _, l := range lines {
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// FormatVerdict describes the result of a dry-run match.
func FormatVerdict(ch *model.Channel, v filter.Verdict) string {
	switch {
	case v.Excluded:
		return fmt.Sprintf("#%d %s: excluded by %q.", ch.ID, channelLabel(ch), v.ExcludedBy)
	case v.Matched:
		return fmt.Sprintf("#%d %s: matched %q, an alert would be sent.", ch.ID, channelLabel(ch), v.Keyword)
	default:
		return fmt.Sprintf("#%d %s: no keyword matched.", ch.ID, channelLabel(ch))
	}
}

func channelLabel(ch *model.Channel) string {
	if ch.Name != "" {
		return fmt.Sprintf("%q", ch.Name)
	}
	return ch.Ref
}

func channelStatus(ch *model.Channel) string {
	if ch.IsEnabled {
		return statusActive
	}
	return statusPaused
}
