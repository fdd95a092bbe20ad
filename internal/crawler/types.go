package crawler

import (
	"net/http"
	"time"
)

// Kind distinguishes listing pages from ad detail pages.
type Kind int

// Work item kinds. Listing items always outrank detail items.
const (
	KindDetail Kind = iota
	KindListing
)

// String returns the lowercase label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindListing:
		return "listing"
	case KindDetail:
		return "detail"
	default:
		return "unknown"
	}
}

// Priority returns the scheduling priority of the kind; higher runs first.
func (k Kind) Priority() int {
	if k == KindListing {
		return 1
	}
	return 0
}

// WorkItem is a single pending fetch in the frontier.
type WorkItem struct {
	Kind     Kind
	URL      string
	Key      string
	Priority int
	// Attempt counts how many times the item has been requeued.
	Attempt    int
	EnqueuedAt time.Time
}

// CreativeType is the discrete format of an ad.
type CreativeType string

// Supported creative types.
const (
	CreativeVideo         CreativeType = "VIDEO"
	CreativeCarousel      CreativeType = "CAROUSEL"
	CreativeDocument      CreativeType = "DOCUMENT"
	CreativeEvent         CreativeType = "EVENT"
	CreativeMessage       CreativeType = "MESSAGE"
	CreativeSingleImage   CreativeType = "SINGLE_IMAGE"
	CreativeText          CreativeType = "TEXT"
	CreativeFollowCompany CreativeType = "FOLLOW_COMPANY"
	CreativeSpotlight     CreativeType = "SPOTLIGHT"
	CreativeJob           CreativeType = "JOB"
	CreativeUnknown       CreativeType = "UNKNOWN"
)

// PromotionType records who the ad is attributed to.
type PromotionType string

// Promotion types.
const (
	PromotionCompany           PromotionType = "COMPANY"
	PromotionThoughtLeadership PromotionType = "THOUGHT_LEADERSHIP"
)

// Advertiser identifies the company running the ad.
type Advertiser struct {
	Name       string `json:"name,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
	ProfileID  string `json:"profile_id,omitempty"`
	LogoURL    string `json:"logo_url,omitempty"`
	Payer      string `json:"payer,omitempty"`
}

// Promoter identifies the individual a thought-leadership ad is attributed to.
type Promoter struct {
	Name       string `json:"name,omitempty"`
	Headline   string `json:"headline,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
}

// Content holds the creative fields shared by every format.
type Content struct {
	Copy      string   `json:"copy,omitempty"`
	Headline  string   `json:"headline,omitempty"`
	CTA       string   `json:"cta,omitempty"`
	ClickURL  string   `json:"click_url,omitempty"`
	ImageURLs []string `json:"image_urls,omitempty"`
}

// Availability is the run window exactly as displayed.
type Availability struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// CountryImpressions is one row of the per-country distribution.
type CountryImpressions struct {
	Country    string  `json:"country"`
	Percentage float64 `json:"percentage"`
	Min        *int64  `json:"min,omitempty"`
	Max        *int64  `json:"max,omitempty"`
}

// Impressions captures the impression range and its breakdown.
type Impressions struct {
	Raw       string               `json:"raw,omitempty"`
	Min       *int64               `json:"min,omitempty"`
	Max       *int64               `json:"max,omitempty"`
	ByCountry []CountryImpressions `json:"by_country,omitempty"`
}

// Targeting lists the audience facets shown on the detail page.
type Targeting struct {
	Languages         []string `json:"languages,omitempty"`
	IncludedLocations []string `json:"included_locations,omitempty"`
	ExcludedLocations []string `json:"excluded_locations,omitempty"`
	Audience          string   `json:"audience,omitempty"`
	Job               string   `json:"job,omitempty"`
	Company           string   `json:"company,omitempty"`
}

// Video is the payload of a VIDEO ad.
type Video struct {
	URL          string `json:"url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// CarouselItem is one slide of a CAROUSEL ad.
type CarouselItem struct {
	Title    string `json:"title,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	LinkURL  string `json:"link_url,omitempty"`
}

// Document is the payload of a DOCUMENT ad.
type Document struct {
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// Event is the payload of an EVENT ad.
type Event struct {
	Name     string `json:"name,omitempty"`
	Time     string `json:"time,omitempty"`
	Location string `json:"location,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Message is the payload of a MESSAGE ad.
type Message struct {
	Sender         string   `json:"sender,omitempty"`
	SenderHeadline string   `json:"sender_headline,omitempty"`
	SenderImageURL string   `json:"sender_image_url,omitempty"`
	Body           string   `json:"body,omitempty"`
	Links          []string `json:"links,omitempty"`
	InBodyCTA      string   `json:"in_body_cta,omitempty"`
	ButtonCTA      string   `json:"button_cta,omitempty"`
	ButtonURL      string   `json:"button_url,omitempty"`
}

// Panel is the payload of SPOTLIGHT, FOLLOW_COMPANY, and JOB ads.
type Panel struct {
	Headline    string `json:"headline,omitempty"`
	Description string `json:"description,omitempty"`
	CTA         string `json:"cta,omitempty"`
	ClickURL    string `json:"click_url,omitempty"`
}

// Payload carries the type-specific fields; at most one member is set.
type Payload struct {
	Video    *Video         `json:"video,omitempty"`
	Carousel []CarouselItem `json:"carousel,omitempty"`
	Document *Document      `json:"document,omitempty"`
	Event    *Event         `json:"event,omitempty"`
	Message  *Message       `json:"message,omitempty"`
	Panel    *Panel         `json:"panel,omitempty"`
}

// AdRecord is the extraction output for one ad. It is never mutated after
// it has been handed to a Sink.
type AdRecord struct {
	AdID            string        `json:"ad_id"`
	DetailURL       string        `json:"detail_url"`
	CapturedAt      time.Time     `json:"captured_at"`
	Fingerprint     string        `json:"fingerprint,omitempty"`
	Advertiser      Advertiser    `json:"advertiser"`
	PromotionType   PromotionType `json:"promotion_type,omitempty"`
	Promoter        *Promoter     `json:"promoter,omitempty"`
	CreativeType    CreativeType  `json:"creative_type"`
	Payload         Payload       `json:"payload"`
	Content         Content       `json:"content"`
	Availability    Availability  `json:"availability"`
	Impressions     Impressions   `json:"impressions"`
	Targeting       Targeting     `json:"targeting"`
	Diagnostics     []string      `json:"diagnostics,omitempty"`
	ExtractionError string        `json:"extraction_error,omitempty"`
}

// Checkpoint is a periodic snapshot of run progress.
type Checkpoint struct {
	RunID             string    `json:"run_id"`
	TotalAdsAvailable int       `json:"total_ads_available"`
	AdsCollected      int       `json:"ads_collected"`
	DetailsCollected  int       `json:"details_collected"`
	DetailsFailed     int       `json:"details_failed"`
	PagesProcessed    int       `json:"pages_processed"`
	AccountOwner      string    `json:"account_owner,omitempty"`
	Keyword           string    `json:"keyword,omitempty"`
	Reason            string    `json:"reason"`
	Timestamp         time.Time `json:"timestamp"`
}

// Notification events.
const (
	NotifyRecord     = "record"
	NotifyCheckpoint = "checkpoint"
)

// Notification announces a stored record or checkpoint to downstream
// consumers over a message bus.
type Notification struct {
	Event        string      `json:"event"`
	RunID        string      `json:"run_id"`
	AdID         string      `json:"ad_id,omitempty"`
	CreativeType string      `json:"creative_type,omitempty"`
	DetailURL    string      `json:"detail_url,omitempty"`
	Checkpoint   *Checkpoint `json:"checkpoint,omitempty"`
	At           time.Time   `json:"at"`
}

// Key partitions notifications by ad, falling back to the run.
func (n Notification) Key() string {
	if n.AdID != "" {
		return n.AdID
	}
	return n.RunID
}

// Attributes returns the routing attributes carried alongside the payload.
func (n Notification) Attributes() map[string]string {
	attrs := map[string]string{"event": n.Event, "run_id": n.RunID}
	if n.AdID != "" {
		attrs["ad_id"] = n.AdID
	}
	if n.CreativeType != "" {
		attrs["creative_type"] = n.CreativeType
	}
	return attrs
}

// FetchRequest captures everything needed to fetch a URL under an identity.
type FetchRequest struct {
	URL     string
	Kind    Kind
	Headers http.Header
	// Proxy is the egress path assigned to the acting identity, if any.
	Proxy string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
