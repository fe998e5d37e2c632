package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ajitpratap0/transcript-mcp/pkg/logging"
)

const (
	// DefaultBaseURL is the YouTube origin used for watch pages and the player API.
	DefaultBaseURL = "https://www.youtube.com"
	// DefaultClientVersion is the ANDROID innertube client version sent to the player API.
	DefaultClientVersion = "20.10.38"
	// DefaultMaxRetries bounds retries of transient upstream failures.
	DefaultMaxRetries = 2

	acceptLanguage = "en-US"
	maxBodyBytes   = 10 << 20
)

// YouTube fetches transcripts through the public watch page and the
// innertube player API.
type YouTube struct {
	client        *http.Client
	baseURL       string
	clientVersion string
	logger        logging.Logger
	newBackOff    func() backoff.BackOff
}

// Option configures a YouTube fetcher.
type Option func(*YouTube)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(y *YouTube) { y.client = c }
}

// WithBaseURL points the fetcher at another origin.
func WithBaseURL(u string) Option {
	return func(y *YouTube) { y.baseURL = strings.TrimRight(u, "/") }
}

// WithClientVersion overrides the innertube client version.
func WithClientVersion(v string) Option {
	return func(y *YouTube) { y.clientVersion = v }
}

// WithLogger sets the logger used for categorized failures.
func WithLogger(l logging.Logger) Option {
	return func(y *YouTube) { y.logger = l }
}

// WithBackOff sets the retry policy for each upstream call. The function is
// called once per call so policies may keep state.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(y *YouTube) { y.newBackOff = f }
}

// NewYouTube returns a fetcher with default settings.
func NewYouTube(opts ...Option) *YouTube {
	y := &YouTube{
		client:        &http.Client{Timeout: 15 * time.Second},
		baseURL:       DefaultBaseURL,
		clientVersion: DefaultClientVersion,
		logger:        logging.Nop(),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return backoff.WithMaxRetries(b, DefaultMaxRetries)
		},
	}
	for _, opt := range opts {
		opt(y)
	}
	y.logger = y.logger.WithFields(logging.String("component", "transcript"))
	return y
}

// Fetch implements Fetcher.
func (y *YouTube) Fetch(ctx context.Context, req Request) []Segment {
	segments, err := y.fetch(ctx, req)
	if err != nil {
		y.logger.WithError(err).Warn("transcript unavailable",
			logging.String("category", string(CategoryOf(err))),
			logging.String("reason", Reason(err)),
			logging.String("video_url", req.VideoURL))
		return nil
	}
	y.logger.Debug("transcript fetched",
		logging.String("video_url", req.VideoURL),
		logging.Int("segments", len(segments)))
	return segments
}

func (y *YouTube) fetch(ctx context.Context, req Request) ([]Segment, error) {
	id := ExtractVideoID(req.VideoURL)
	if id == "" {
		return nil, fail(CategoryInvalidURL, "unable_to_extract_video_id")
	}

	html, err := y.watchHTML(ctx, id)
	if err != nil {
		return nil, err
	}
	key := extractAPIKey(html)
	if key == "" {
		return nil, fail(CategoryInaccessible, "innertube_api_key_not_found")
	}

	player, err := y.player(ctx, key, id)
	if err != nil {
		return nil, err
	}
	if err := player.PlayabilityStatus.check(); err != nil {
		return nil, err
	}

	renderer := player.Captions.Renderer
	if len(renderer.CaptionTracks) == 0 {
		return nil, fail(CategoryNoCaptions, "no_caption_tracks_found")
	}
	track, ok := chooseTrack(renderer.CaptionTracks, req.PreferredLanguages,
		player.defaultCaptionIndex(), renderer.DefaultTranslationSourceTrackIndices)
	if !ok {
		return nil, fail(CategoryNoCaptions, "no_suitable_track_found")
	}

	xml, err := y.captions(ctx, track.URL)
	if err != nil {
		return nil, err
	}
	segments := normalize(parseSegments(xml))
	if len(segments) == 0 {
		return nil, fail(CategoryNoCaptions, "no_segments_after_parsing")
	}
	return segments, nil
}

func (y *YouTube) watchHTML(ctx context.Context, id string) (string, error) {
	watchURL := y.baseURL + "/watch?v=" + url.QueryEscape(id)

	html, err := y.getText(ctx, watchURL, "")
	if err != nil {
		return "", err
	}
	if !strings.Contains(html, consentAction) {
		return html, nil
	}

	v := extractConsentValue(html)
	if v == "" {
		return "", fail(CategoryOther, "consent_cookie_create_failed")
	}
	html, err = y.getText(ctx, watchURL, "CONSENT=YES+"+v)
	if err != nil {
		return "", err
	}
	if strings.Contains(html, consentAction) {
		return "", fail(CategoryOther, "consent_cookie_invalid")
	}
	return html, nil
}

type playerRequest struct {
	Context struct {
		Client struct {
			ClientName    string `json:"clientName"`
			ClientVersion string `json:"clientVersion"`
		} `json:"client"`
	} `json:"context"`
	VideoID string `json:"videoId"`
}

func (y *YouTube) player(ctx context.Context, key, id string) (*playerResponse, error) {
	var body playerRequest
	body.Context.Client.ClientName = "ANDROID"
	body.Context.Client.ClientVersion = y.clientVersion
	body.VideoID = id
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Failure{Category: CategoryOther, Reason: "player_request_encode", Err: err}
	}

	playerURL := y.baseURL + "/youtubei/v1/player?key=" + url.QueryEscape(key)
	status, data, err := y.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, playerURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept-Language", acceptLanguage)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if status == http.StatusTooManyRequests {
		return nil, fail(CategoryNetwork, "ip_blocked")
	}
	if status < 200 || status > 299 {
		return nil, requestFailed(status)
	}

	var resp playerResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &Failure{Category: CategoryOther, Reason: "invalid_player_response", Err: err}
	}
	return &resp, nil
}

func (y *YouTube) captions(ctx context.Context, trackURL string) (string, error) {
	if strings.HasPrefix(trackURL, "/") {
		trackURL = y.baseURL + trackURL
	}
	return y.getText(ctx, trackURL, "")
}

func (y *YouTube) getText(ctx context.Context, target, cookie string) (string, error) {
	status, data, err := y.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept-Language", acceptLanguage)
		if cookie != "" {
			req.Header.Set("Cookie", cookie)
		}
		return req, nil
	})
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", requestFailed(status)
	}
	return string(data), nil
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.status)
}

func requestFailed(status int) *Failure {
	return fail(CategoryNetwork, fmt.Sprintf("yt_request_failed_%d", status))
}

// do performs one upstream call, retrying transport errors and 5xx answers.
// Any other status is returned to the caller with its body.
func (y *YouTube) do(ctx context.Context, build func() (*http.Request, error)) (int, []byte, error) {
	var (
		status int
		data   []byte
	)
	op := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := y.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &statusError{status: resp.StatusCode}
		}
		status, data = resp.StatusCode, body
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(y.newBackOff(), ctx)); err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return 0, nil, requestFailed(se.status)
		}
		return 0, nil, &Failure{Category: CategoryNetwork, Reason: "request_failed", Err: err}
	}
	return status, data, nil
}
