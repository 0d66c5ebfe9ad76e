package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

const (
	defaultTTSURL = "https://translate.google.com/translate_tts"
	// maxChunkRunes is the longest text the TTS endpoint accepts per request.
	maxChunkRunes = 100
)

// GoogleSynthesizer fetches MP3 audio from the Google Translate TTS endpoint.
type GoogleSynthesizer struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
}

// NewGoogleSynthesizer paces requests to 5 per second with a burst of 5.
func NewGoogleSynthesizer(hc *http.Client) *GoogleSynthesizer {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &GoogleSynthesizer{
		BaseURL:    defaultTTSURL,
		HTTPClient: hc,
		Limiter:    rate.NewLimiter(rate.Limit(5), 5),
	}
}

func (g *GoogleSynthesizer) Synthesize(ctx context.Context, text, lang string, w io.Writer) error {
	chunks := splitText(text, maxChunkRunes)
	if len(chunks) == 0 {
		return fmt.Errorf("%w: empty text", ErrSynthesis)
	}
	for i, c := range chunks {
		if g.Limiter != nil {
			if err := g.Limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%w: %v", ErrSynthesis, err)
			}
		}
		if err := g.fetchChunk(ctx, c, lang, i, len(chunks), w); err != nil {
			return err
		}
	}
	return nil
}

func (g *GoogleSynthesizer) fetchChunk(ctx context.Context, text, lang string, idx, total int, w io.Writer) error {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", lang)
	q.Set("q", text)
	q.Set("idx", strconv.Itoa(idx))
	q.Set("total", strconv.Itoa(total))
	q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(text)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: chunk %d/%d: status %d", ErrSynthesis, idx+1, total, resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("%w: write audio: %v", ErrSynthesis, err)
	}
	return nil
}

// splitText breaks text into chunks of at most limit runes, preferring word
// boundaries. Words longer than limit are split.
func splitText(text string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, word := range strings.Fields(text) {
		runes := []rune(word)
		for len(runes) > limit {
			flush()
			chunks = append(chunks, string(runes[:limit]))
			runes = runes[limit:]
		}
		n := len(runes)
		if curLen > 0 && curLen+1+n > limit {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(string(runes))
		curLen += n
	}
	flush()
	return chunks
}
