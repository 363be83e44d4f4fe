package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	EmbedPlatformYouTube    = "youtube"
	EmbedPlatformVimeo      = "vimeo"
	EmbedPlatformSpotify    = "spotify"
	EmbedPlatformSoundCloud = "soundcloud"
)

var ErrUnsupportedEmbed = errors.New("unsupported embed url")

var supportedEmbedDomains = []string{
	"youtube.com",
	"youtu.be",
	"vimeo.com",
	"open.spotify.com",
	"soundcloud.com",
}

var spotifyContentTypes = map[string]bool{
	"track":    true,
	"album":    true,
	"playlist": true,
	"artist":   true,
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// EmbedInfo describes an embeddable player for an external media URL.
type EmbedInfo struct {
	EmbedURL    string `json:"embedUrl"`
	Platform    string `json:"platform"`
	SourceURL   string `json:"sourceUrl"`
	Title       string `json:"title,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// SupportedEmbedDomains 返回可识别的外部平台域名。
func SupportedEmbedDomains() []string {
	out := make([]string, len(supportedEmbedDomains))
	copy(out, supportedEmbedDomains)
	return out
}

func embedHost(u *url.URL) string {
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func parseEmbedURL(raw string) (*url.URL, bool) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed == nil {
		return nil, false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, false
	}
	if parsed.Hostname() == "" {
		return nil, false
	}
	return parsed, true
}

// IsSupportedEmbedURL reports whether the URL's host belongs to a supported platform.
func IsSupportedEmbedURL(raw string) bool {
	parsed, ok := parseEmbedURL(raw)
	if !ok {
		return false
	}
	host := embedHost(parsed)
	for _, domain := range supportedEmbedDomains {
		if host == domain {
			return true
		}
	}
	return false
}

// ResolveEmbed rewrites a platform URL into its embeddable player URL. It
// returns nil for unsupported hosts and for URLs that carry no usable id.
func ResolveEmbed(raw string) *EmbedInfo {
	parsed, ok := parseEmbedURL(raw)
	if !ok {
		return nil
	}
	source := strings.TrimSpace(raw)

	switch embedHost(parsed) {
	case "youtube.com", "youtu.be":
		return resolveYouTube(parsed, source)
	case "vimeo.com":
		return resolveVimeo(parsed, source)
	case "open.spotify.com":
		return resolveSpotify(parsed, source)
	case "soundcloud.com":
		return resolveSoundCloud(source)
	default:
		return nil
	}
}

func resolveYouTube(u *url.URL, source string) *EmbedInfo {
	var videoID string
	path := strings.Trim(u.Path, "/")

	if embedHost(u) == "youtu.be" {
		videoID = path
	} else {
		switch {
		case path == "watch":
			videoID = u.Query().Get("v")
		case strings.HasPrefix(path, "shorts/"):
			videoID = strings.TrimPrefix(path, "shorts/")
		case strings.HasPrefix(path, "embed/"):
			videoID = strings.TrimPrefix(path, "embed/")
		}
	}
	if strings.Contains(videoID, "/") {
		videoID = strings.Split(videoID, "/")[0]
	}
	if videoID == "" {
		return nil
	}

	return &EmbedInfo{
		EmbedURL:  "https://www.youtube-nocookie.com/embed/" + videoID,
		Platform:  EmbedPlatformYouTube,
		SourceURL: source,
	}
}

func resolveVimeo(u *url.URL, source string) *EmbedInfo {
	videoID := strings.Trim(u.Path, "/")
	if !onlyDigits(videoID) {
		return nil
	}
	return &EmbedInfo{
		EmbedURL:  "https://player.vimeo.com/video/" + videoID,
		Platform:  EmbedPlatformVimeo,
		SourceURL: source,
	}
}

func resolveSpotify(u *url.URL, source string) *EmbedInfo {
	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(parts) < 2 {
		return nil
	}
	contentType, id := parts[0], parts[1]
	if id == "" || !spotifyContentTypes[contentType] {
		return nil
	}
	return &EmbedInfo{
		EmbedURL:    fmt.Sprintf("https://open.spotify.com/embed/%s/%s", contentType, id),
		Platform:    EmbedPlatformSpotify,
		SourceURL:   source,
		ContentType: contentType,
	}
}

func resolveSoundCloud(source string) *EmbedInfo {
	values := url.Values{}
	values.Set("url", source)
	values.Set("color", "#ff5500")
	values.Set("auto_play", "false")
	values.Set("hide_related", "true")
	return &EmbedInfo{
		EmbedURL:  "https://w.soundcloud.com/player/?" + values.Encode(),
		Platform:  EmbedPlatformSoundCloud,
		SourceURL: source,
	}
}

func onlyDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return value != ""
}

// EmbedPlatformLabel is the generic title used when no metadata is available.
func EmbedPlatformLabel(platform string) string {
	switch platform {
	case EmbedPlatformYouTube:
		return "YouTube video"
	case EmbedPlatformVimeo:
		return "Vimeo video"
	case EmbedPlatformSpotify:
		return "Spotify"
	case EmbedPlatformSoundCloud:
		return "SoundCloud track"
	default:
		return "Embedded media"
	}
}

func oEmbedEndpoint(platform string) string {
	switch platform {
	case EmbedPlatformYouTube:
		return "https://www.youtube.com/oembed"
	case EmbedPlatformVimeo:
		return "https://vimeo.com/api/oembed.json"
	case EmbedPlatformSpotify:
		return "https://open.spotify.com/oembed"
	case EmbedPlatformSoundCloud:
		return "https://soundcloud.com/oembed"
	default:
		return ""
	}
}

// TitleCache stores fetched embed titles keyed by source URL.
type TitleCache interface {
	GetTitle(ctx context.Context, sourceURL string) (string, bool)
	SetTitle(ctx context.Context, sourceURL, title string)
}

// EmbedResolver resolves embed URLs and enriches them with oEmbed titles.
type EmbedResolver struct {
	httpClient httpDoer
	cache      TitleCache
	timeout    time.Duration
	endpoints  map[string]string
}

// NewEmbedResolver creates an EmbedResolver. cache may be nil.
func NewEmbedResolver(timeout time.Duration, cache TitleCache) *EmbedResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &EmbedResolver{
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		timeout:    timeout,
		endpoints:  map[string]string{},
	}
}

// SetHTTPClient 替换访问 oEmbed 接口的 HTTP 客户端，主要面向测试场景。
func (r *EmbedResolver) SetHTTPClient(client httpDoer) {
	if client == nil {
		r.httpClient = &http.Client{Timeout: r.timeout}
		return
	}
	r.httpClient = client
}

// SetEndpoint overrides the oEmbed endpoint of a platform.
func (r *EmbedResolver) SetEndpoint(platform, endpoint string) {
	r.endpoints[platform] = strings.TrimRight(strings.TrimSpace(endpoint), "/")
}

// Resolve is ResolveEmbed followed by FetchTitle.
func (r *EmbedResolver) Resolve(ctx context.Context, raw string) (*EmbedInfo, error) {
	info := ResolveEmbed(raw)
	if info == nil {
		return nil, ErrUnsupportedEmbed
	}
	enriched := r.FetchTitle(ctx, *info)
	return &enriched, nil
}

// FetchTitle enriches info with the platform's oEmbed title. Lookup failures
// fall back to the generic platform label and are never returned.
func (r *EmbedResolver) FetchTitle(ctx context.Context, info EmbedInfo) EmbedInfo {
	if info.Title != "" {
		return info
	}

	if r.cache != nil {
		if title, ok := r.cache.GetTitle(ctx, info.SourceURL); ok {
			info.Title = title
			return info
		}
	}

	title, err := r.lookupTitle(ctx, info)
	if err != nil {
		slog.Warn("embed metadata lookup failed", "platform", info.Platform, "url", info.SourceURL, "error", err)
		info.Title = EmbedPlatformLabel(info.Platform)
		return info
	}

	info.Title = title
	if r.cache != nil {
		r.cache.SetTitle(ctx, info.SourceURL, title)
	}
	return info
}

type oEmbedResponse struct {
	Title string `json:"title"`
}

func (r *EmbedResolver) lookupTitle(ctx context.Context, info EmbedInfo) (string, error) {
	endpoint := r.endpoints[info.Platform]
	if endpoint == "" {
		endpoint = oEmbedEndpoint(info.Platform)
	}
	if endpoint == "" {
		return "", fmt.Errorf("no metadata endpoint for %q", info.Platform)
	}

	query := url.Values{}
	query.Set("url", info.SourceURL)
	query.Set("format", "json")

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build oembed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "feedlog/1.0")

	client := r.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request oembed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oembed returned %s", resp.Status)
	}

	var payload oEmbedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode oembed: %w", err)
	}
	title := strings.TrimSpace(payload.Title)
	if title == "" {
		return "", errors.New("oembed response has no title")
	}
	return title, nil
}
