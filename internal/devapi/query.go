package devapi

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/phillip-england/projectdesk/internal/records"
)

const (
	defaultPerPage = 25
	maxPerPage     = 200
)

// reserved query keys are never treated as equality filters.
var reserved = map[string]bool{"page": true, "limit": true, "sort": true, "q": true, "search": true}

type listQuery struct {
	Search  string
	Filters map[string]string
	Sort    string
	Desc    bool
	Page    int
	Limit   int
}

func parseListQuery(q url.Values) listQuery {
	lq := listQuery{
		Search:  strings.TrimSpace(q.Get("q")),
		Filters: map[string]string{},
		Sort:    "createdAt",
		Desc:    true,
		Page:    parsePositiveInt(q.Get("page"), 1),
		Limit:   min(parsePositiveInt(q.Get("limit"), defaultPerPage), maxPerPage),
	}
	if lq.Search == "" {
		lq.Search = strings.TrimSpace(q.Get("search"))
	}
	if raw := strings.TrimSpace(q.Get("sort")); raw != "" {
		lq.Desc = strings.HasPrefix(raw, "-")
		lq.Sort = strings.TrimPrefix(raw, "-")
	}
	for key, values := range q {
		if reserved[key] || len(values) == 0 || strings.TrimSpace(values[0]) == "" {
			continue
		}
		lq.Filters[key] = strings.TrimSpace(values[0])
	}
	return lq
}

type pageResult struct {
	Data       []records.Record `json:"data"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	TotalPages int              `json:"totalPages"`
}

// apply filters, sorts and pages docs. Equality filters compare case-insensitively
// on the string form of a field; search matches any scalar value.
func (lq listQuery) apply(docs []records.Record) pageResult {
	matched := make([]records.Record, 0, len(docs))
	for _, doc := range docs {
		if lq.matches(doc) {
			matched = append(matched, doc)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		less := compareValues(a[lq.Sort], b[lq.Sort])
		if lq.Desc {
			return less > 0
		}
		return less < 0
	})

	total := len(matched)
	totalPages := 1
	if total > 0 {
		totalPages = (total + lq.Limit - 1) / lq.Limit
	}
	start := (lq.Page - 1) * lq.Limit
	page := []records.Record{}
	if start < total {
		page = matched[start:min(start+lq.Limit, total)]
	}
	return pageResult{Data: page, Total: total, Page: lq.Page, Limit: lq.Limit, TotalPages: totalPages}
}

func (lq listQuery) matches(doc records.Record) bool {
	for key, want := range lq.Filters {
		if !strings.EqualFold(doc.String(key), want) {
			return false
		}
	}
	if lq.Search == "" {
		return true
	}
	needle := strings.ToLower(lq.Search)
	for _, v := range doc {
		switch v.(type) {
		case string, float64, bool:
		default:
			continue
		}
		s, _ := v.(string)
		if s == "" {
			s = records.Record{"v": v}.String("v")
		}
		if strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

// compareValues orders numbers numerically and everything else as text.
// Missing values sort first.
func compareValues(a, b any) int {
	fa, aNum := a.(float64)
	fb, bNum := b.(float64)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	as := records.Record{"v": a}.String("v")
	bs := records.Record{"v": b}.String("v")
	return strings.Compare(strings.ToLower(as), strings.ToLower(bs))
}

func parsePositiveInt(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
