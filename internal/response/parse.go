package response

import (
	"regexp"
	"strings"

	"github.com/clmem/memoryd/pkg/models"
)

// ParsedBlocks is the result of scanning an LLM reply for observation and
// summary tags.
type ParsedBlocks struct {
	Observations []*models.Observation
	Summary      *models.SessionSummary
}

var (
	observationBlockRe = regexp.MustCompile(`(?s)<observation>(.*?)</observation>`)
	summaryBlockRe      = regexp.MustCompile(`(?s)<summary>(.*?)</summary>`)
)

// Parse scans text for zero or more <observation> blocks and at most one
// <summary> block. The wire format is not well-formed XML — unknown tags
// are ignored and missing sub-tags default to empty — so this is a
// tolerant tag scan rather than an XML parse, since an LLM reply can
// truncate or malform a closing tag without the whole response being
// unusable.
func Parse(text string) *ParsedBlocks {
	out := &ParsedBlocks{}

	for _, m := range observationBlockRe.FindAllStringSubmatch(text, -1) {
		obs := &models.Observation{
			Type:          models.ObservationType(tag(m[1], "type")),
			Title:         tag(m[1], "title"),
			Subtitle:      tag(m[1], "subtitle"),
			Narrative:     tag(m[1], "narrative"),
			Facts:         items(m[1], "facts"),
			Concepts:      listTag(m[1], "concepts"),
			FilesRead:     listTag(m[1], "files_read"),
			FilesModified: listTag(m[1], "files_modified"),
		}
		out.Observations = append(out.Observations, obs)
	}

	if m := summaryBlockRe.FindStringSubmatch(text); m != nil {
		out.Summary = &models.SessionSummary{
			Request:      tag(m[1], "request"),
			Investigated: tag(m[1], "investigated"),
			Learned:      tag(m[1], "learned"),
			Completed:    tag(m[1], "completed"),
			NextSteps:    tag(m[1], "next_steps"),
			Notes:        tag(m[1], "notes"),
		}
	}

	return out
}

func tag(block, name string) string {
	re := regexp.MustCompile(`(?s)<` + name + `>(.*?)</` + name + `>`)
	m := re.FindStringSubmatch(block)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// items extracts <item>...</item> entries nested inside <name>...</name>,
// used for <facts>.
func items(block, name string) []string {
	inner := tag(block, name)
	if inner == "" {
		return nil
	}
	itemRe := regexp.MustCompile(`(?s)<item>(.*?)</item>`)
	var out []string
	for _, m := range itemRe.FindAllStringSubmatch(inner, -1) {
		v := strings.TrimSpace(m[1])
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// listTag splits a comma-separated <name>...</name> body into a list.
func listTag(block, name string) []string {
	inner := tag(block, name)
	if inner == "" {
		return nil
	}
	parts := strings.Split(inner, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
