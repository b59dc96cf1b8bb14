package prices

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"crop_price_api/internal/prices"
)

type paging struct {
	cursor string
	limit  int
}

// int64Param returns 0 when key is absent so that validation reports it as missing.
func int64Param(q url.Values, key string) (int64, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("query parameter %s must be an integer", key)
	}

	return v, nil
}

// int64List accepts repeated keys and comma separated values: ?crop_ids=1,2&crop_ids=3.
func int64List(q url.Values, key string) ([]int64, error) {
	var out []int64

	for _, raw := range q[key] {
		for part := range strings.SplitSeq(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}

			v, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("query parameter %s must be a list of integers", key)
			}

			out = append(out, v)
		}
	}

	return out, nil
}

func pagingParams(q url.Values) (paging, error) {
	p := paging{
		cursor: strings.TrimSpace(q.Get("cursor")),
		limit:  prices.DefaultLimit,
	}

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return paging{}, errors.New("query parameter limit must be an integer")
		}

		p.limit = v
	}

	return p, nil
}
