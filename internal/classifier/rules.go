package classifier

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
)

// PreviewSelector locates the top-level ad preview container.
const PreviewSelector = ".ad-preview, .base-ad-preview-card, [data-ad-preview]"

// AboutPanelSelector locates the "about this ad" side panel.
const AboutPanelSelector = ".about-ad, [data-about-ad], .ad-detail-right-rail"

const labelSelector = ".about-ad__ad-type, .about-ad__format, [data-ad-type-label]"

var markerAttrs = []string{"data-creative-type", "data-ad-format"}

// markerValues maps normalized marker values onto creative types.
var markerValues = map[string]crawler.CreativeType{
	"VIDEO":                            crawler.CreativeVideo,
	"SPONSORED_VIDEO":                  crawler.CreativeVideo,
	"CAROUSEL":                         crawler.CreativeCarousel,
	"SPONSORED_UPDATE_CAROUSEL":        crawler.CreativeCarousel,
	"DOCUMENT":                         crawler.CreativeDocument,
	"SPONSORED_UPDATE_NATIVE_DOCUMENT": crawler.CreativeDocument,
	"EVENT":                            crawler.CreativeEvent,
	"SPONSORED_UPDATE_EVENT":           crawler.CreativeEvent,
	"MESSAGE":                          crawler.CreativeMessage,
	"SPONSORED_MESSAGE":                crawler.CreativeMessage,
	"SPONSORED_INMAILS":                crawler.CreativeMessage,
	"SINGLE_IMAGE":                     crawler.CreativeSingleImage,
	"IMAGE":                            crawler.CreativeSingleImage,
	"SPONSORED_STATUS_UPDATE":          crawler.CreativeSingleImage,
	"TEXT":                             crawler.CreativeText,
	"TEXT_AD":                          crawler.CreativeText,
	"FOLLOW_COMPANY":                   crawler.CreativeFollowCompany,
	"FOLLOW_COMPANY_V2":                crawler.CreativeFollowCompany,
	"SPOTLIGHT":                        crawler.CreativeSpotlight,
	"SPOTLIGHT_V2":                     crawler.CreativeSpotlight,
	"JOB":                              crawler.CreativeJob,
	"JOBS_V2":                          crawler.CreativeJob,
}

// typeOrder is the priority order shared by the label and marker rules.
var typeOrder = []crawler.CreativeType{
	crawler.CreativeVideo,
	crawler.CreativeCarousel,
	crawler.CreativeDocument,
	crawler.CreativeEvent,
	crawler.CreativeMessage,
	crawler.CreativeSingleImage,
	crawler.CreativeText,
	crawler.CreativeFollowCompany,
	crawler.CreativeSpotlight,
	crawler.CreativeJob,
}

// labelPhrases are matched case-insensitively against the panel label.
var labelPhrases = map[crawler.CreativeType][]string{
	crawler.CreativeVideo:         {"video ad"},
	crawler.CreativeCarousel:      {"carousel ad"},
	crawler.CreativeDocument:      {"document ad"},
	crawler.CreativeEvent:         {"event ad"},
	crawler.CreativeMessage:       {"message ad", "conversation ad"},
	crawler.CreativeSingleImage:   {"single image ad", "image ad"},
	crawler.CreativeText:          {"text ad"},
	crawler.CreativeFollowCompany: {"follower ad", "follow company ad"},
	crawler.CreativeSpotlight:     {"spotlight ad"},
	crawler.CreativeJob:           {"job ad", "jobs ad"},
}

// structuralRules run from the most to the least specific format. Each is
// evaluated against the preview container only.
var structuralRules = []struct {
	name     string
	typ      crawler.CreativeType
	selector string
}{
	{"video-element", crawler.CreativeVideo, "video, [data-video-sources], .share-native-video"},
	{"carousel-container", crawler.CreativeCarousel, "[class*=carousel]"},
	{"native-document", crawler.CreativeDocument, "[data-native-document-config], .native-document-container"},
	{"event-link", crawler.CreativeEvent, "a[href*='/events/'], [data-event-ad], .ad-preview__event"},
	{"message-content", crawler.CreativeMessage, "[class*=message-content], .sponsored-message"},
	{"single-image", crawler.CreativeSingleImage, "[data-single-image], .ad-preview__image img, img.ad-preview__media"},
	{"text-ad", crawler.CreativeText, ".text-ad, [class*=text-ad__]"},
}

// DefaultRules returns the full ordered dispatch table.
func DefaultRules() []Rule {
	rules := make([]Rule, 0, 2*len(typeOrder)+len(structuralRules))
	for _, t := range typeOrder {
		rules = append(rules, MarkerRule(t))
	}
	for _, t := range typeOrder {
		rules = append(rules, LabelRule(t, labelPhrases[t]...))
	}
	for _, s := range structuralRules {
		rules = append(rules, StructuralRule(s.name, s.typ, s.selector))
	}
	return rules
}

// MarkerRule matches when the preview container's marker maps to t.
func MarkerRule(t crawler.CreativeType) Rule {
	return Rule{
		Name:   "marker-" + strings.ToLower(string(t)),
		Source: SourceMarker,
		Type:   t,
		Match: func(doc *goquery.Document) bool {
			got, ok := MarkerType(doc)
			return ok && got == t
		},
	}
}

// LabelRule matches when the about-panel label contains one of phrases.
func LabelRule(t crawler.CreativeType, phrases ...string) Rule {
	return Rule{
		Name:   "label-" + strings.ToLower(string(t)),
		Source: SourceLabel,
		Type:   t,
		Match: func(doc *goquery.Document) bool {
			label := strings.ToLower(PanelLabel(doc))
			if label == "" {
				return false
			}
			for _, phrase := range phrases {
				if strings.Contains(label, phrase) {
					return true
				}
			}
			return false
		},
	}
}

// StructuralRule matches when selector finds anything inside the preview.
func StructuralRule(name string, t crawler.CreativeType, selector string) Rule {
	return Rule{
		Name:   name,
		Source: SourceStructure,
		Type:   t,
		Match: func(doc *goquery.Document) bool {
			return Preview(doc).Find(selector).Length() > 0
		},
	}
}

// Preview returns the preview container, or the whole document when absent.
func Preview(doc *goquery.Document) *goquery.Selection {
	if sel := doc.Find(PreviewSelector).First(); sel.Length() > 0 {
		return sel
	}
	return doc.Selection
}

// MarkerType reads the preview container's explicit type marker. Unknown or
// conflicting marker values are reported as absent.
func MarkerType(doc *goquery.Document) (crawler.CreativeType, bool) {
	container := doc.Find(PreviewSelector).First()
	if container.Length() == 0 {
		return "", false
	}
	var found crawler.CreativeType
	for _, attr := range markerAttrs {
		raw, ok := container.Attr(attr)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		t, known := markerValues[normalizeMarker(raw)]
		if !known {
			return "", false
		}
		if found != "" && found != t {
			return "", false
		}
		found = t
	}
	return found, found != ""
}

// PanelLabel returns the about-panel type label text.
func PanelLabel(doc *goquery.Document) string {
	panel := doc.Find(AboutPanelSelector).First()
	if panel.Length() == 0 {
		return ""
	}
	return strings.Join(strings.Fields(panel.Find(labelSelector).First().Text()), " ")
}

func normalizeMarker(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}
