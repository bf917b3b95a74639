package discordref

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/guppy/internal/chat"
)

func TestChannelBoundarySpansGuildAndChannel(t *testing.T) {
	rest := "guild1:chan1:thread1"
	idx := channelBoundary(rest)
	if idx < 0 {
		t.Fatal("expected a boundary index")
	}
	if rest[:idx] != "guild1:chan1" {
		t.Fatalf("expected channel key %q, got %q", "guild1:chan1", rest[:idx])
	}
}

func TestChannelBoundaryMissingSegmentReturnsNegative(t *testing.T) {
	if idx := channelBoundary("onlyoneseg"); idx >= 0 {
		t.Fatalf("expected -1 for a string with no colon, got %d", idx)
	}
	if idx := channelBoundary("guild1:chan1"); idx >= 0 {
		t.Fatalf("expected -1 when the thread segment is missing, got %d", idx)
	}
}

func TestTruncateLeavesShortTextAlone(t *testing.T) {
	s := "hello"
	if got := truncate(s, discordMessageLimit); got != s {
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

func TestWrapDiscordErrNilPassesThrough(t *testing.T) {
	if err := wrapDiscordErr(nil); err != nil {
		t.Fatalf("expected nil to stay nil, got %v", err)
	}
}

func TestWrapDiscordErrDetectsRateLimit(t *testing.T) {
	restErr := &discordgo.RESTError{
		Response: &http.Response{StatusCode: 429},
	}

	err := wrapDiscordErr(restErr)
	var rle *chat.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected a chat.RateLimitError, got %T: %v", err, err)
	}
}

func TestWrapDiscordErrPassesThroughOtherErrors(t *testing.T) {
	plain := fmt.Errorf("some other failure")
	err := wrapDiscordErr(plain)
	var rle *chat.RateLimitError
	if errors.As(err, &rle) {
		t.Fatal("expected a non-429 error not to be classified as a rate limit")
	}
	if err != plain {
		t.Fatalf("expected the original error to pass through unchanged, got %v", err)
	}
}
