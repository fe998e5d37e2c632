package transcript

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	videoIDPattern  = regexp.MustCompile(`(?:https?://)?(?:www\.)?(?:youtube\.com/(?:watch\?v=|embed/|v/|live/)|youtu\.be/)([\w-]{11})`)
	apiKeyPattern   = regexp.MustCompile(`"INNERTUBE_API_KEY":\s*"([a-zA-Z0-9_-]+)"`)
	consentPattern  = regexp.MustCompile(`name="v" value="(.*?)"`)
	textPattern     = regexp.MustCompile(`<text[^>]*start="([^"]+)"[^>]*dur="([^"]+)"[^>]*>([\s\S]*?)</text>`)
	timedPattern    = regexp.MustCompile(`<p[^>]*\bt="(\d+)"[^>]*\bd="(\d+)"[^>]*>([\s\S]*?)</p>`)
	innerTagPattern = regexp.MustCompile(`<[^>]+>`)
)

const consentAction = `action="https://consent.youtube.com/s"`

// ExtractVideoID returns the 11 character id from a watch, embed, v, live
// or youtu.be URL, or "" when none matches.
func ExtractVideoID(videoURL string) string {
	m := videoIDPattern.FindStringSubmatch(videoURL)
	if m == nil {
		return ""
	}
	return m[1]
}

func extractAPIKey(html string) string {
	m := apiKeyPattern.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return m[1]
}

func extractConsentValue(html string) string {
	m := consentPattern.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return m[1]
}

type playabilityStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (p *playabilityStatus) check() error {
	if p == nil || p.Status == "" || p.Status == "OK" {
		return nil
	}
	if p.Status == "LOGIN_REQUIRED" {
		if strings.Contains(p.Reason, "not a bot") {
			return fail(CategoryInaccessible, "request_blocked")
		}
		if strings.Contains(p.Reason, "inappropriate") {
			return fail(CategoryInaccessible, "age_restricted")
		}
	}
	if p.Status == "ERROR" && strings.Contains(p.Reason, "unavailable") {
		return fail(CategoryInaccessible, "video_unavailable")
	}
	return fail(CategoryInaccessible, "video_unplayable")
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

type audioTrack struct {
	DefaultCaptionTrackIndex *int `json:"defaultCaptionTrackIndex"`
}

type playerResponse struct {
	PlayabilityStatus *playabilityStatus `json:"playabilityStatus"`
	Captions          struct {
		Renderer struct {
			CaptionTracks                        []captionTrack `json:"captionTracks"`
			AudioTracks                          []audioTrack   `json:"audioTracks"`
			DefaultTranslationSourceTrackIndices []int          `json:"defaultTranslationSourceTrackIndices"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

func (p *playerResponse) defaultCaptionIndex() int {
	tracks := p.Captions.Renderer.AudioTracks
	if len(tracks) == 0 || tracks[0].DefaultCaptionTrackIndex == nil {
		return -1
	}
	return *tracks[0].DefaultCaptionTrackIndex
}

type pickedTrack struct {
	URL  string
	Lang string
}

// chooseTrack picks a track in this order: preferred language among manual
// tracks, then among ASR tracks, the default caption index, the translation
// source indices, the first manual track, the first ASR track.
func chooseTrack(tracks []captionTrack, preferred []string, defaultIndex int, translationIndices []int) (pickedTrack, bool) {
	var manual, asr []captionTrack
	for _, t := range tracks {
		if t.BaseURL == "" {
			continue
		}
		if t.Kind == "asr" {
			asr = append(asr, t)
		} else {
			manual = append(manual, t)
		}
	}

	prefs := make([]string, 0, len(preferred))
	for _, p := range preferred {
		prefs = append(prefs, strings.ToLower(p))
	}
	scan := func(list []captionTrack) (captionTrack, bool) {
		for _, lang := range prefs {
			for _, t := range list {
				if t.LanguageCode == lang || strings.HasPrefix(strings.ToLower(t.LanguageCode), lang) {
					return t, true
				}
			}
		}
		return captionTrack{}, false
	}

	if t, ok := scan(manual); ok {
		return pick(t), true
	}
	if t, ok := scan(asr); ok {
		return pick(t), true
	}
	if defaultIndex >= 0 && defaultIndex < len(tracks) && tracks[defaultIndex].BaseURL != "" {
		return pick(tracks[defaultIndex]), true
	}
	for _, idx := range translationIndices {
		if idx >= 0 && idx < len(tracks) && tracks[idx].BaseURL != "" {
			return pick(tracks[idx]), true
		}
	}
	if len(manual) > 0 {
		return pick(manual[0]), true
	}
	if len(asr) > 0 {
		return pick(asr[0]), true
	}
	return pickedTrack{}, false
}

func pick(t captionTrack) pickedTrack {
	return pickedTrack{URL: strings.Replace(t.BaseURL, "&fmt=srv3", "", 1), Lang: t.LanguageCode}
}

// parseSegments reads <transcript><text start dur> captions (seconds) and
// falls back to <timedtext><p t d> captions (milliseconds).
func parseSegments(xml string) []Segment {
	if out := parseTranscriptTexts(xml); len(out) > 0 {
		return out
	}
	return parseTimedText(xml)
}

func parseTranscriptTexts(xml string) []Segment {
	var out []Segment
	for _, m := range textPattern.FindAllStringSubmatch(xml, -1) {
		text := strings.TrimSpace(decodeEntities(m[3]))
		if text == "" {
			continue
		}
		out = append(out, Segment{
			Text:      text,
			StartInMs: secondsToMs(m[1]),
			Duration:  secondsToMs(m[2]),
		})
	}
	return out
}

func parseTimedText(xml string) []Segment {
	var out []Segment
	for _, m := range timedPattern.FindAllStringSubmatch(xml, -1) {
		text := strings.TrimSpace(decodeEntities(innerTagPattern.ReplaceAllString(m[3], "")))
		if text == "" {
			continue
		}
		start, _ := strconv.ParseInt(m[1], 10, 64)
		dur, _ := strconv.ParseInt(m[2], 10, 64)
		out = append(out, Segment{Text: text, StartInMs: start, Duration: dur})
	}
	return out
}

func secondsToMs(s string) int64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(math.Round(f * 1000))
}

// Applied in sequence so double-escaped text such as "&amp;#39;" decodes fully.
var entities = [][2]string{
	{"&amp;", "&"},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&quot;", `"`},
	{"&#39;", "'"},
}

func decodeEntities(s string) string {
	for _, e := range entities {
		s = strings.ReplaceAll(s, e[0], e[1])
	}
	return s
}

// normalize trims text, drops empty segments, removes duplicates on
// start and text, and orders by start time.
func normalize(in []Segment) []Segment {
	seen := make(map[string]struct{}, len(in))
	out := make([]Segment, 0, len(in))
	for _, s := range in {
		s.Text = strings.TrimSpace(s.Text)
		if s.Text == "" {
			continue
		}
		key := strconv.FormatInt(s.StartInMs, 10) + "|" + s.Text
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartInMs < out[j].StartInMs })
	return out
}
