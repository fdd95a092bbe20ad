package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
	"github.com/JakeFAU/adlibrary-crawler/internal/normalize"
)

// strategy fills type-specific fields of rec.
type strategy func(p *page, rec *crawler.AdRecord)

func defaultStrategies() map[crawler.CreativeType]strategy {
	return map[crawler.CreativeType]strategy{
		crawler.CreativeVideo:         extractVideo,
		crawler.CreativeCarousel:      extractCarousel,
		crawler.CreativeDocument:      extractDocument,
		crawler.CreativeEvent:         extractEvent,
		crawler.CreativeMessage:       extractMessage,
		crawler.CreativeSpotlight:     panelStrategy(crawler.CreativeSpotlight),
		crawler.CreativeFollowCompany: panelStrategy(crawler.CreativeFollowCompany),
		crawler.CreativeJob:           panelStrategy(crawler.CreativeJob),
	}
}

type videoSource struct {
	Src     string `json:"src"`
	Bitrate int64  `json:"bitrate"`
}

func extractVideo(p *page, rec *crawler.AdRecord) {
	video := &crawler.Video{}
	if holder := firstSelection(p.preview, "[data-video-sources]", "video[data-sources]"); holder != nil {
		raw, ok := holder.Attr("data-video-sources")
		if !ok {
			raw, _ = holder.Attr("data-sources")
		}
		var sources []videoSource
		if err := json.Unmarshal([]byte(raw), &sources); err != nil {
			p.notef("payload.video.sources: %v", err)
		}
		best := -1
		for i, src := range sources {
			if src.Src == "" {
				continue
			}
			if best < 0 || src.Bitrate > sources[best].Bitrate {
				best = i
			}
		}
		if best >= 0 {
			video.URL = normalize.ResolveURL(p.url, sources[best].Src)
		}
	}
	if video.URL == "" {
		video.URL = p.assets.URL(firstSelection(p.preview, "video[src]", "video source", "video"))
	}
	if video.URL == "" {
		p.notef("payload.video.url: no source found")
	}
	if poster, ok := first(p.preview, []candidate{attrOf("video", "poster"), attrOf("[data-poster-url]", "data-poster-url")}); ok {
		video.ThumbnailURL = normalize.ResolveURL(p.url, poster)
	}
	rec.Payload.Video = video
}

var (
	slideSelector       = ".ad-carousel__slide, [data-carousel-slide]"
	legacySlideSelector = "ul[class*='carousel'] > li"
	slideTitleChain     = []candidate{
		textOf(".ad-carousel__slide-title"),
		textOf(".slide-title"),
		textOf("h3"),
		attrOf("img", "alt"),
	}
)

func extractCarousel(p *page, rec *crawler.AdRecord) {
	slides := p.preview.Find(slideSelector)
	if slides.Length() == 0 {
		slides = p.preview.Find(legacySlideSelector)
		if slides.Length() > 0 {
			p.notef("payload.carousel: legacy slide markup")
		}
	}
	slides.Each(func(_ int, slide *goquery.Selection) {
		item := crawler.CarouselItem{}
		item.Title, _ = first(slide, slideTitleChain)
		item.ImageURL = p.assets.URL(slide.Find("img").First())
		if href, ok := first(slide, []candidate{attrOf("a[href]", "href")}); ok {
			item.LinkURL = p.cleanURL(href)
		}
		rec.Payload.Carousel = append(rec.Payload.Carousel, item)
	})
	if len(rec.Payload.Carousel) == 0 {
		p.notef("payload.carousel: no slides found")
	}
}

type documentConfig struct {
	ManifestURL string `json:"manifestUrl"`
	Title       string `json:"title"`
}

func extractDocument(p *page, rec *crawler.AdRecord) {
	doc := &crawler.Document{}
	if holder := firstSelection(p.preview, "[data-native-document-config]"); holder != nil {
		raw, _ := holder.Attr("data-native-document-config")
		var cfg struct {
			Doc *documentConfig `json:"doc"`
			documentConfig
		}
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			p.notef("payload.document.config: %v", err)
		}
		dc := cfg.documentConfig
		if cfg.Doc != nil {
			dc = *cfg.Doc
		}
		doc.URL = normalize.ResolveURL(p.url, dc.ManifestURL)
		doc.Title = strings.TrimSpace(dc.Title)
	}
	if doc.Title == "" {
		doc.Title, _ = first(p.preview, []candidate{textOf(".native-document__title"), textOf(".document-title")})
	}
	if doc.URL == "" {
		p.notef("payload.document.url: no manifest")
	}
	rec.Payload.Document = doc
}

var (
	eventContainerSelectors = []string{"a.ad-preview__event-link", ".ad-preview__event", "[data-event-ad]"}
	eventNameChain          = []candidate{textOf(".event__title"), textOf("h3"), textOf(".event-title")}
	eventTimeChain          = []candidate{textOf(".event__time"), textOf("time"), attrOf("time", "datetime")}
	eventLocationChain      = []candidate{textOf(".event__location"), textOf(".event-location")}
)

func extractEvent(p *page, rec *crawler.AdRecord) {
	event := &crawler.Event{}
	if container := firstSelection(p.preview, eventContainerSelectors...); container != nil {
		event.Name, _ = first(container, eventNameChain)
		event.Time, _ = first(container, eventTimeChain)
		event.Location, _ = first(container, eventLocationChain)
		href, ok := container.Attr("href")
		if !ok {
			href, _ = first(container, []candidate{attrOf("a[href]", "href")})
		}
		event.URL = p.cleanURL(href)
		rec.Payload.Event = event
		return
	}

	// Secondary path: only the call-to-action button carries the event.
	cta := firstSelection(p.preview, "a.ad-preview__cta[href*='/events/']", "a.ad-preview__cta[href]")
	if cta == nil {
		p.notef("payload.event: no event container or call to action")
		return
	}
	href, _ := cta.Attr("href")
	event.URL = p.cleanURL(href)
	event.Name = rec.Content.Headline
	p.notef("payload.event: derived from call to action")
	rec.Payload.Event = event
}

var (
	messageSenderChain   = []candidate{textOf(".message-sender__name"), textOf(".sponsored-message__sender-name")}
	messageHeadlineChain = []candidate{textOf(".message-sender__headline"), textOf(".sponsored-message__sender-headline")}
	messageBodySelectors = []string{".message-content__body", ".sponsored-message__body"}
	messageSegments      = ".message-segment, .message-content__segment"
	messageInBodyCTA     = []candidate{textOf(".message-content__cta"), textOf("a.message-body-cta")}
	messageButtonSels    = []string{".sponsored-message__button", "a.message-cta-button", "button.message-cta"}
)

func extractMessage(p *page, rec *crawler.AdRecord) {
	msg := &crawler.Message{}
	msg.Sender, _ = first(p.preview, messageSenderChain)
	if msg.Sender == "" {
		p.notef("payload.message.sender: no candidate matched")
	}
	msg.SenderHeadline, _ = first(p.preview, messageHeadlineChain)
	if img := firstSelection(p.preview, ".message-sender img", ".sponsored-message__sender img"); img != nil {
		msg.SenderImageURL = p.assets.URL(img)
	}

	body := firstSelection(p.preview, messageBodySelectors...)
	msg.Body = renderText(body)
	if msg.Body == "" {
		var parts []string
		p.preview.Find(messageSegments).Each(func(_ int, s *goquery.Selection) {
			if text := renderText(s); text != "" {
				parts = append(parts, text)
			}
		})
		msg.Body = strings.Join(parts, "\n")
		body = p.preview.Find(messageSegments)
	}
	if body != nil {
		seen := make(map[string]struct{})
		body.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			link := p.cleanURL(href)
			if link == "" {
				return
			}
			if _, dup := seen[link]; dup {
				return
			}
			seen[link] = struct{}{}
			msg.Links = append(msg.Links, link)
		})
	}
	msg.InBodyCTA, _ = first(p.preview, messageInBodyCTA)
	if button := firstSelection(p.preview, messageButtonSels...); button != nil {
		msg.ButtonCTA = normalize.CollapseSpace(button.Text())
		if href, ok := button.Attr("href"); ok {
			msg.ButtonURL = p.cleanURL(href)
		}
	}
	if msg.Body == "" {
		p.notef("payload.message.body: empty")
	}
	rec.Payload.Message = msg
}

var (
	panelCandidates   = "[data-panel-type], .ad-panel, [class*='bordered']"
	panelHeading      = "[class*='semibold'], strong, h3"
	panelCTA          = "a[class*='cta'], a.button, a[role='button']"
	panelLowEmphasis  = "p[class*='low-emphasis'], p[class*='secondary'], p[class*='muted']"
	panelMarkerValues = map[string]crawler.CreativeType{
		"spotlight":      crawler.CreativeSpotlight,
		"follow_company": crawler.CreativeFollowCompany,
		"follow-company": crawler.CreativeFollowCompany,
		"follower":       crawler.CreativeFollowCompany,
		"job":            crawler.CreativeJob,
		"jobs":           crawler.CreativeJob,
	}
)

// panelStrategy locates the bordered panel for t, first by explicit marker
// and then by shape: a semibold heading, a call-to-action anchor, and a
// low-emphasis description.
func panelStrategy(t crawler.CreativeType) strategy {
	return func(p *page, rec *crawler.AdRecord) {
		var panel *goquery.Selection
		p.preview.Find(panelCandidates).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if marker, ok := s.Attr("data-panel-type"); ok && panelMarkerValues[strings.ToLower(strings.TrimSpace(marker))] == t {
				panel = s
				return false
			}
			return true
		})
		if panel == nil {
			p.preview.Find(panelCandidates).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				if s.Find(panelHeading).Length() > 0 && s.Find(panelCTA).Length() > 0 && s.Find(panelLowEmphasis).Length() > 0 {
					panel = s
					return false
				}
				return true
			})
		}
		if panel == nil {
			p.notef("payload.panel: no bordered panel found")
			return
		}
		out := &crawler.Panel{}
		out.Headline = normalize.CollapseSpace(panel.Find(panelHeading).First().Text())
		out.Description = normalize.CollapseSpace(panel.Find(panelLowEmphasis).First().Text())
		if cta := panel.Find(panelCTA).First(); cta.Length() > 0 {
			out.CTA = normalize.CollapseSpace(cta.Text())
			href, _ := cta.Attr("href")
			out.ClickURL = p.cleanURL(href)
		}
		rec.Payload.Panel = out
	}
}
