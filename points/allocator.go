/*
allocator.go - Business-scoped card identifiers

PURPOSE:
  Produces the human-presentable identifier printed on a loyalty card:

    <PREFIX>-<SUFFIX>      e.g. MYCO-7KQ2ZP

  PREFIX: business name uppercased, non-alphanumerics stripped,
          truncated or padded with 'X' to exactly 4 characters.
  SUFFIX: 6 characters from an alphabet without look-alikes
          (no 0/O, 1/I), drawn from crypto/rand.

ALGORITHM:
  Up to MaxAttempts random candidates are checked against existing
  cards of the business. If all collide, a timestamp+random suffix is
  returned without another check.

RACE WINDOW:
  Check-then-insert is not atomic. The (business_id, card_id) unique
  index is the final authority; inserts fail with ErrDuplicateCardID
  and the caller allocates again.
*/
package points

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/warp/loyalty-engine/metrics"
)

const (
	// CardAlphabet excludes characters that are easy to misread on a card.
	CardAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	cardPrefixLen   = 4
	cardSuffixLen   = 6
	cardPadding     = 'X'
	defaultAttempts = 5
)

var cardIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{4}-[A-Za-z0-9]{6,}$`)

// IsValidCardID reports whether s has the card identifier shape.
func IsValidCardID(s string) bool {
	return cardIDPattern.MatchString(s)
}

// CardPrefix derives the 4-character card prefix from a business name.
func CardPrefix(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			if b.Len() == cardPrefixLen {
				break
			}
		}
	}
	for b.Len() < cardPrefixLen {
		b.WriteRune(cardPadding)
	}
	return b.String()
}

// Allocator generates card identifiers unique within a business.
type Allocator struct {
	Cards       CardStore
	Rand        io.Reader
	Now         func() time.Time
	MaxAttempts int
}

func NewAllocator(cards CardStore) *Allocator {
	return &Allocator{
		Cards:       cards,
		Rand:        rand.Reader,
		Now:         time.Now,
		MaxAttempts: defaultAttempts,
	}
}

// Allocate returns a card id not used by any client of the business at call time.
func (a *Allocator) Allocate(ctx context.Context, business Business) (string, error) {
	prefix := CardPrefix(business.Name)

	for attempt := 0; attempt < a.MaxAttempts; attempt++ {
		suffix, err := a.randomString(cardSuffixLen)
		if err != nil {
			return "", err
		}
		candidate := prefix + "-" + suffix

		exists, err := a.Cards.CardIDExists(ctx, business.ID, candidate)
		if err != nil {
			return "", fmt.Errorf("check card id: %w", err)
		}
		if !exists {
			metrics.CardsAllocated.Inc()
			return candidate, nil
		}
	}

	return a.fallback(prefix)
}

// fallback builds a time-based id that cannot repeat across calls in practice.
func (a *Allocator) fallback(prefix string) (string, error) {
	tail, err := a.randomString(4)
	if err != nil {
		return "", err
	}
	stamp := strings.ToUpper(strconv.FormatInt(a.Now().UnixMilli(), 36))
	metrics.CardsAllocated.Inc()
	return prefix + "-" + stamp + tail, nil
}

func (a *Allocator) randomString(n int) (string, error) {
	limit := big.NewInt(int64(len(CardAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(a.Rand, limit)
		if err != nil {
			return "", fmt.Errorf("generate card id: %w", err)
		}
		buf[i] = CardAlphabet[idx.Int64()]
	}
	return string(buf), nil
}
