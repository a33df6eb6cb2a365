package storage

import (
	"slices"
	"strconv"
	"time"

	"github.com/nfrund/duochat/internal/domain"
)

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func sortUsersByID(users []domain.User) {
	slices.SortFunc(users, func(a, b domain.User) int {
		ai, aerr := strconv.ParseUint(a.ID, 10, 64)
		bi, berr := strconv.ParseUint(b.ID, 10, 64)
		if aerr != nil || berr != nil {
			switch {
			case a.ID < b.ID:
				return -1
			case a.ID > b.ID:
				return 1
			}
			return 0
		}
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	})
}
