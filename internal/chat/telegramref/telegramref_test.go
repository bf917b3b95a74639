package telegramref

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/guppy/internal/chat"
)

func TestTruncateLeavesShortTextAlone(t *testing.T) {
	s := "hello"
	if got := truncate(s, telegramMessageLimit); got != s {
		t.Fatalf("expected untouched text, got %q", got)
	}
}

func TestTruncateBreaksOnNewlineNearLimit(t *testing.T) {
	long := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 20)
	got := truncate(long, 15)
	if got != strings.Repeat("a", 10) {
		t.Fatalf("expected truncate to cut at the newline, got %q", got)
	}
}

func TestTruncateHardCutsWhenNoNewlineNearLimit(t *testing.T) {
	long := strings.Repeat("a", 30)
	got := truncate(long, 10)
	if len(got) != 10 {
		t.Fatalf("expected a hard cut at the limit, got len %d", len(got))
	}
}

func TestWrapTelegramErrNilPassesThrough(t *testing.T) {
	if err := wrapTelegramErr(nil); err != nil {
		t.Fatalf("expected nil to stay nil, got %v", err)
	}
}

func TestWrapTelegramErrDetectsRateLimitWithRetryAfter(t *testing.T) {
	apiErr := &telego.APIError{
		ErrorCode:  429,
		Parameters: &telego.ResponseParameters{RetryAfter: 5},
	}

	err := wrapTelegramErr(apiErr)
	var rle *chat.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected a chat.RateLimitError, got %T: %v", err, err)
	}
	if rle.RetryAfterMs != 5000 {
		t.Fatalf("expected RetryAfterMs derived from RetryAfter seconds, got %d", rle.RetryAfterMs)
	}
}

func TestWrapTelegramErrWithoutParametersStillClassifiesAsRateLimit(t *testing.T) {
	apiErr := &telego.APIError{ErrorCode: 429}
	err := wrapTelegramErr(apiErr)
	var rle *chat.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected a chat.RateLimitError even without Parameters, got %T: %v", err, err)
	}
	if rle.RetryAfterMs != 0 {
		t.Fatalf("expected RetryAfterMs to default to 0, got %d", rle.RetryAfterMs)
	}
}

func TestWrapTelegramErrPassesThroughOtherErrors(t *testing.T) {
	plain := fmt.Errorf("some other failure")
	err := wrapTelegramErr(plain)
	var rle *chat.RateLimitError
	if errors.As(err, &rle) {
		t.Fatal("expected a non-429 error not to be classified as a rate limit")
	}
	if err != plain {
		t.Fatalf("expected the original error to pass through unchanged, got %v", err)
	}
}
