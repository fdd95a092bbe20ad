package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
	"github.com/JakeFAU/adlibrary-crawler/internal/normalize"
)

type step struct {
	name string
	fn   strategy
}

// sharedSteps run for every record, in order.
var sharedSteps = []step{
	{"advertiser", extractAdvertiser},
	{"promoter", extractPromoter},
	{"content", extractContent},
	{"availability", extractAvailability},
	{"impressions", extractImpressions},
	{"targeting", extractTargeting},
}

var (
	advertiserNameChain = []candidate{
		textOf(".ad-preview__advertiser-name"),
		textOf(".base-ad-preview-card__advertiser-name"),
		textOf("[data-tracking-control-name*='advertiser'] .name"),
		textOf("a.ad-preview__advertiser-link"),
	}
	advertiserLinkChain = []candidate{
		attrOf("a.ad-preview__advertiser-link", "href"),
		attrOf("a[data-tracking-control-name*='advertiser']", "href"),
		attrOf("a[href*='/company/']", "href"),
		attrOf("a[href*='/showcase/']", "href"),
	}
	panelAdvertiserChain = []candidate{
		textOf(".about-ad__advertiser-name"),
		textOf(".about-ad__advertiser a"),
	}
	logoSelectors = []string{
		"img.ad-preview__advertiser-logo",
		".ad-preview__header img",
		"a[href*='/company/'] img",
	}
	payerChain = []candidate{
		textOf(".about-ad__paying-entity"),
		textOf(".about-ad__payer"),
		attrOf("[data-payer]", "data-payer"),
	}

	promoterLinkSelectors = []string{
		"a.ad-preview__promoter-link",
		"a[href*='/in/']",
	}
	promoterNameChain = []candidate{
		textOf(".ad-preview__promoter-name"),
		textOf(".ad-preview__actor-name"),
	}
	promoterHeadlineChain = []candidate{
		textOf(".ad-preview__promoter-headline"),
		textOf(".ad-preview__promoter-subtitle"),
		textOf(".ad-preview__actor-description"),
	}
	promoterImageSelectors = []string{
		"img.ad-preview__promoter-image",
		"a[href*='/in/'] img",
	}

	copySelectors = []string{
		".ad-preview__commentary",
		".commentary__content",
		"[data-test-id='commentary']",
	}
	seeMoreSelectors = []string{
		".see-more",
		".commentary__see-more",
		"button[aria-label*='see more']",
	}
	fullCopySelectors = []string{
		".ad-preview__commentary--full",
		"[data-full-commentary]",
		".commentary__content--hidden",
	}
	headlineChain = []candidate{
		textOf(".ad-preview__headline"),
		textOf(".sponsored-content-headline"),
		textOf(".text-ad__headline"),
	}
	ctaChain = []candidate{
		textOf(".ad-preview__cta"),
		textOf("[data-cta]"),
		textOf(".text-ad__cta"),
	}
	clickURLChain = []candidate{
		attrOf("a.ad-preview__cta", "href"),
		attrOf("a.ad-preview__headline-link", "href"),
		attrOf("a.ad-preview__media-link", "href"),
		attrOf("a.text-ad__headline", "href"),
	}
	imageSelector = ".ad-preview__image img, img.ad-preview__media, .text-ad img"

	availabilityChain = []candidate{
		textOf(".about-ad__availability-duration"),
		textOf(".about-ad__availability"),
	}
	impressionsChain = []candidate{
		textOf(".ad-analytics__impressions"),
		textOf(".about-ad__impressions"),
		attrOf("[data-impressions]", "data-impressions"),
	}
	countryRowSelector = ".ad-analytics__country-impressions li, .about-ad__impressions-by-country li"
	targetingSelector  = ".targeting-facet, .about-ad__targeting-group"
)

var (
	payerPrefix  = regexp.MustCompile(`(?i)^\s*paid\s+for\s+by\s*:?\s*`)
	rangeWindow  = regexp.MustCompile(`(?i)^(?:ran|running|ad ran)?\s*from\s+(.+?)\s+(?:to|until|-|–)\s+(.+)$`)
	singleWindow = regexp.MustCompile(`(?i)^(?:ran|running|started|ad ran)\s+(?:on|since)\s+(.+)$`)
	percentToken = regexp.MustCompile(`[<>]?\s*\d+(?:\.\d+)?\s*%`)
)

func extractAdvertiser(p *page, rec *crawler.AdRecord) {
	name, ok := first(p.preview, advertiserNameChain)
	if !ok {
		name, ok = first(p.panel, panelAdvertiserChain)
	}
	logo := firstSelection(p.preview, logoSelectors...)
	if !ok && logo != nil {
		if alt, has := logo.Attr("alt"); has && strings.TrimSpace(alt) != "" {
			name = normalize.CollapseSpace(alt)
			ok = true
			p.notef("advertiser.name: taken from logo alt text")
		}
	}
	if !ok {
		p.notef("advertiser.name: no candidate matched")
	}
	rec.Advertiser.Name = name

	if link, found := first(p.preview, advertiserLinkChain); found {
		rec.Advertiser.ProfileURL = p.cleanURL(link)
		rec.Advertiser.ProfileID = normalize.ParseProfileID(rec.Advertiser.ProfileURL)
	} else {
		p.notef("advertiser.profile_url: no candidate matched")
	}
	if logo != nil {
		rec.Advertiser.LogoURL = p.assets.URL(logo)
	}
	if payer, found := first(p.panel, payerChain); found {
		rec.Advertiser.Payer = strings.TrimSpace(payerPrefix.ReplaceAllString(payer, ""))
	}
}

func extractPromoter(p *page, rec *crawler.AdRecord) {
	rec.PromotionType = crawler.PromotionCompany
	var link *goquery.Selection
	for _, sel := range promoterLinkSelectors {
		p.preview.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			abs := p.cleanURL(href)
			if abs == "" || !normalize.IsPersonalProfile(abs) || abs == rec.Advertiser.ProfileURL {
				return true
			}
			link = s
			return false
		})
		if link != nil {
			break
		}
	}
	if link == nil {
		return
	}

	rec.PromotionType = crawler.PromotionThoughtLeadership
	href, _ := link.Attr("href")
	promoter := &crawler.Promoter{ProfileURL: p.cleanURL(href)}
	if name, ok := first(p.preview, promoterNameChain); ok {
		promoter.Name = name
	} else {
		promoter.Name = normalize.CollapseSpace(link.Text())
	}
	if promoter.Name == "" {
		p.notef("promoter.name: no candidate matched")
	}
	promoter.Headline, _ = first(p.preview, promoterHeadlineChain)
	if img := firstSelection(p.preview, promoterImageSelectors...); img != nil {
		promoter.ImageURL = p.assets.URL(img)
	}
	rec.Promoter = promoter
}

func extractContent(p *page, rec *crawler.AdRecord) {
	copySel := firstSelection(p.preview, copySelectors...)
	text := renderText(copySel)
	if firstSelection(p.preview, seeMoreSelectors...) != nil {
		// the collapsed body is truncated; prefer whichever pass is longer
		if full := renderText(firstSelection(p.preview, fullCopySelectors...)); len(full) > len(text) {
			text = full
		}
	}
	if text == "" {
		p.notef("content.copy: empty")
	}
	rec.Content.Copy = text
	rec.Content.Headline, _ = first(p.preview, headlineChain)
	rec.Content.CTA, _ = first(p.preview, ctaChain)
	if click, ok := first(p.preview, clickURLChain); ok {
		rec.Content.ClickURL = p.cleanURL(click)
	}
	rec.Content.ImageURLs = p.assets.URLs(p.preview.Find(imageSelector))
}

func extractAvailability(p *page, rec *crawler.AdRecord) {
	raw, ok := first(p.panel, availabilityChain)
	if !ok {
		p.notef("availability: not shown")
		return
	}
	if m := rangeWindow.FindStringSubmatch(raw); m != nil {
		rec.Availability.Start = strings.TrimSpace(m[1])
		rec.Availability.End = strings.TrimSpace(m[2])
		return
	}
	if m := singleWindow.FindStringSubmatch(raw); m != nil {
		rec.Availability.Start = strings.TrimSpace(m[1])
		return
	}
	rec.Availability.Start = raw
	p.notef("availability: unrecognized format %q", raw)
}

func extractImpressions(p *page, rec *crawler.AdRecord) {
	raw, ok := first(p.panel, impressionsChain)
	if !ok {
		p.notef("impressions: not shown")
		return
	}
	rec.Impressions.Raw = raw
	total, err := normalize.ParseImpressionRange(raw)
	if err != nil {
		p.notef("impressions: %v", err)
	} else {
		rec.Impressions.Min = total.Min
		rec.Impressions.Max = total.Max
	}

	p.panel.Find(countryRowSelector).Each(func(_ int, row *goquery.Selection) {
		country, pctText := splitCountryRow(row)
		if country == "" || pctText == "" {
			return
		}
		pct, pctErr := normalize.ParsePercentage(pctText)
		if pctErr != nil {
			p.notef("impressions.by_country %q: %v", country, pctErr)
			return
		}
		derived := normalize.CountryImpressions(total, pct)
		rec.Impressions.ByCountry = append(rec.Impressions.ByCountry, crawler.CountryImpressions{
			Country:    country,
			Percentage: pct,
			Min:        derived.Min,
			Max:        derived.Max,
		})
	})
}

// splitCountryRow reads "<country> <pct>%" rows, with or without dedicated
// child elements.
func splitCountryRow(row *goquery.Selection) (string, string) {
	country, _ := first(row, []candidate{textOf(".ad-analytics__country-name"), textOf(".country")})
	pct, _ := first(row, []candidate{textOf(".ad-analytics__country-percentage"), textOf(".percentage")})
	if country != "" && pct != "" {
		return country, pct
	}
	text := normalize.CollapseSpace(row.Text())
	loc := percentToken.FindStringIndex(text)
	if loc == nil {
		return "", ""
	}
	if country == "" {
		country = strings.TrimSpace(text[:loc[0]] + text[loc[1]:])
	}
	return country, strings.TrimSpace(text[loc[0]:loc[1]])
}

func extractTargeting(p *page, rec *crawler.AdRecord) {
	groups := p.panel.Find(targetingSelector)
	if groups.Length() == 0 {
		p.notef("targeting: not shown")
		return
	}
	groups.Each(func(_ int, g *goquery.Selection) {
		title, _ := first(g, []candidate{textOf(".targeting-facet__title"), textOf("h3"), textOf("h4")})
		facet := strings.ToLower(title)
		if attr, ok := g.Attr("data-targeting"); ok && attr != "" {
			facet = strings.ToLower(attr)
		}
		included := facetValues(g, ".targeting-facet__included, .included")
		excluded := facetValues(g, ".targeting-facet__excluded, .excluded")
		if len(included) == 0 && len(excluded) == 0 {
			included = facetValues(g, "li, p")
		}
		switch {
		case strings.Contains(facet, "language"):
			rec.Targeting.Languages = append(rec.Targeting.Languages, included...)
		case strings.Contains(facet, "location"):
			rec.Targeting.IncludedLocations = append(rec.Targeting.IncludedLocations, included...)
			rec.Targeting.ExcludedLocations = append(rec.Targeting.ExcludedLocations, excluded...)
		case strings.Contains(facet, "audience"):
			rec.Targeting.Audience = joinFacet(rec.Targeting.Audience, included)
		case strings.Contains(facet, "job"):
			rec.Targeting.Job = joinFacet(rec.Targeting.Job, included)
		case strings.Contains(facet, "compan"):
			rec.Targeting.Company = joinFacet(rec.Targeting.Company, included)
		default:
			p.notef("targeting: unknown facet %q", title)
		}
	})
}

func facetValues(g *goquery.Selection, selector string) []string {
	var out []string
	g.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if items := s.Find("li"); items.Length() > 0 {
			items.Each(func(_ int, li *goquery.Selection) {
				out = append(out, normalize.SplitList(li.Text())...)
			})
			return
		}
		out = append(out, normalize.SplitList(s.Text())...)
	})
	return out
}

func joinFacet(existing string, values []string) string {
	parts := values
	if existing != "" {
		parts = append([]string{existing}, values...)
	}
	return strings.Join(parts, "; ")
}
