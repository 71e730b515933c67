package apiclient

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/phillip-england/projectdesk/internal/records"
)

var listKeys = []string{"data", "items", "results", "records", "docs"}

// decodePage accepts a bare array or an object that wraps one, with paging
// numbers at the top level or under "pagination"/"meta".
func decodePage(raw json.RawMessage) (*Page, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &Page{Page: 1}, nil
	}
	if raw[0] == '[' {
		var items []records.Record
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		return &Page{Items: items, Total: len(items), Page: 1, Limit: len(items), TotalPages: 1}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	page := &Page{}
	found := false
	for _, key := range listKeys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		v = bytes.TrimSpace(v)
		if len(v) > 0 && v[0] == '{' {
			// {"data": {"items": [...], "total": n}}
			inner, err := decodePage(v)
			if err != nil {
				return nil, err
			}
			page = inner
			found = true
			break
		}
		if err := json.Unmarshal(v, &page.Items); err != nil {
			return nil, err
		}
		found = true
		break
	}
	if !found {
		return nil, errors.New("response has no list")
	}

	meta := records.Record{}
	for _, key := range []string{"pagination", "meta"} {
		if v, ok := obj[key]; ok {
			_ = json.Unmarshal(v, &meta)
		}
	}
	top := records.Record{}
	_ = json.Unmarshal(raw, &top)
	number := func(keys ...string) int {
		for _, src := range []records.Record{top, meta} {
			for _, k := range keys {
				if _, ok := src[k]; ok {
					return int(src.Float(k))
				}
			}
		}
		return 0
	}
	if n := number("total", "totalCount", "count", "totalItems"); n > 0 {
		page.Total = n
	}
	if n := number("page", "currentPage"); n > 0 {
		page.Page = n
	}
	if n := number("limit", "pageSize", "perPage", "per_page"); n > 0 {
		page.Limit = n
	}
	if n := number("totalPages", "pages", "pageCount"); n > 0 {
		page.TotalPages = n
	}
	if page.Page == 0 {
		page.Page = 1
	}
	if page.Total == 0 {
		page.Total = len(page.Items)
	}
	if page.TotalPages == 0 && page.Limit > 0 {
		page.TotalPages = (page.Total + page.Limit - 1) / page.Limit
	}
	return page, nil
}
