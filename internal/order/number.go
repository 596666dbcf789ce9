package order

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	orderNumberPrefix    = "ORD"
	orderNumberSuffixLen = 6
	orderNumberAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NumberGenerator produces human-facing order numbers. Uniqueness is
// enforced by the orders_order_number_key constraint, not here.
type NumberGenerator interface {
	Next() (string, error)
}

type NumberGeneratorFunc func() (string, error)

func (f NumberGeneratorFunc) Next() (string, error) { return f() }

type randomNumberGenerator struct {
	now func() time.Time
}

// NewNumberGenerator returns numbers of the form ORD-<base36 millis>-<6 chars>.
func NewNumberGenerator() NumberGenerator {
	return &randomNumberGenerator{now: time.Now}
}

func (g *randomNumberGenerator) Next() (string, error) {
	ts := strings.ToUpper(strconv.FormatInt(g.now().UnixMilli(), 36))

	base := big.NewInt(int64(len(orderNumberAlphabet)))
	suffix := make([]byte, orderNumberSuffixLen)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("order: failed to generate order number: %w", err)
		}
		suffix[i] = orderNumberAlphabet[n.Int64()]
	}

	return orderNumberPrefix + "-" + ts + "-" + string(suffix), nil
}
