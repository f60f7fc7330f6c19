package store

import "strconv"

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func formatInt64(v int64) string {
	return strconv.FormatInt(v, 10)
}
