package subscription

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var sizeUnits = []struct {
	suffix string
	factor int64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"T", 1 << 40},
	{"G", 1 << 30},
	{"M", 1 << 20},
	{"K", 1 << 10},
	{"B", 1},
}

// ParseSize converts a size such as "10GB", "512 KB" or "1.5MB" to bytes.
// Units are 1024-based; a plain number is a byte count and "" is zero.
func ParseSize(s string) (int64, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return 0, nil
	}

	factor := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(v, u.suffix) {
			factor = u.factor
			v = strings.TrimSpace(strings.TrimSuffix(v, u.suffix))
			break
		}
	}

	n, err := decimal.NewFromString(v)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n.IsNegative() {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return n.Mul(decimal.NewFromInt(factor)).IntPart(), nil
}
