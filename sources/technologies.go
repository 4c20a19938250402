package sources

import (
	"bytes"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Technologies lists what a page appears to be built with, sorted by name
type Technologies struct {
	CMS        []string `json:"cms"`
	Frameworks []string `json:"frameworks"`
	Analytics  []string `json:"analytics"`
	Libraries  []string `json:"libraries"`
	Server     string   `json:"server,omitempty"`
}

func emptyTechnologies() Technologies {
	return Technologies{
		CMS:        []string{},
		Frameworks: []string{},
		Analytics:  []string{},
		Libraries:  []string{},
	}
}

type signature struct {
	name      string
	category  string
	generator string   // prefix of <meta name="generator">
	markers   []string // lowercase substrings of the raw HTML
}

var signatures = []signature{
	{name: "WordPress", category: "cms", generator: "wordpress", markers: []string{"/wp-content/", "/wp-includes/"}},
	{name: "Shopify", category: "cms", generator: "shopify", markers: []string{"cdn.shopify.com", "shopify.theme"}},
	{name: "Wix", category: "cms", generator: "wix.com", markers: []string{"static.wixstatic.com", "wix-bolt"}},
	{name: "Squarespace", category: "cms", generator: "squarespace", markers: []string{"static1.squarespace.com"}},
	{name: "Drupal", category: "cms", generator: "drupal", markers: []string{"drupal-settings-json", "/sites/default/files/"}},
	{name: "Joomla", category: "cms", generator: "joomla", markers: []string{"/media/jui/"}},
	{name: "Ghost", category: "cms", generator: "ghost", markers: []string{"ghost-portal"}},
	{name: "Webflow", category: "cms", generator: "webflow", markers: []string{"assets.website-files.com", "data-wf-page"}},
	{name: "HubSpot CMS", category: "cms", generator: "hubspot", markers: []string{"hs-scripts.com"}},

	{name: "Next.js", category: "frameworks", markers: []string{"__next_data__", "/_next/static/"}},
	{name: "Nuxt", category: "frameworks", markers: []string{"window.__nuxt__", "/_nuxt/"}},
	{name: "Gatsby", category: "frameworks", generator: "gatsby", markers: []string{"___gatsby"}},
	{name: "React", category: "frameworks", markers: []string{"data-reactroot", "react-dom", "__next_data__"}},
	{name: "Vue.js", category: "frameworks", markers: []string{"data-v-app", "vue.global", "vue.runtime", "window.__nuxt__"}},
	{name: "Angular", category: "frameworks", markers: []string{"ng-version=", "ng-app"}},
	{name: "Svelte", category: "frameworks", markers: []string{"svelte-", "__sveltekit"}},
	{name: "Astro", category: "frameworks", generator: "astro", markers: []string{"astro-island"}},

	{name: "Google Analytics", category: "analytics", markers: []string{"google-analytics.com/analytics.js", "googletagmanager.com/gtag/js", "gtag('config'", "gtag(\"config\""}},
	{name: "Google Tag Manager", category: "analytics", markers: []string{"googletagmanager.com/gtm.js", "googletagmanager.com/ns.html"}},
	{name: "Facebook Pixel", category: "analytics", markers: []string{"connect.facebook.net/en_us/fbevents.js", "fbq('init'"}},
	{name: "Hotjar", category: "analytics", markers: []string{"static.hotjar.com"}},
	{name: "Segment", category: "analytics", markers: []string{"cdn.segment.com"}},
	{name: "Plausible", category: "analytics", markers: []string{"plausible.io/js"}},
	{name: "Mixpanel", category: "analytics", markers: []string{"cdn.mxpnl.com", "mixpanel.init"}},
	{name: "Matomo", category: "analytics", markers: []string{"matomo.js", "piwik.js"}},
	{name: "Microsoft Clarity", category: "analytics", markers: []string{"clarity.ms/tag"}},

	{name: "jQuery", category: "libraries", markers: []string{"jquery.min.js", "jquery.js", "/jquery-"}},
	{name: "Bootstrap", category: "libraries", markers: []string{"bootstrap.min.css", "bootstrap.min.js"}},
	{name: "Tailwind CSS", category: "libraries", markers: []string{"tailwindcss", "cdn.tailwindcss.com"}},
	{name: "Font Awesome", category: "libraries", markers: []string{"font-awesome", "fontawesome"}},
	{name: "Google Fonts", category: "libraries", markers: []string{"fonts.googleapis.com"}},
}

// DetectTechnologies matches the page against known markers
func DetectTechnologies(doc *goquery.Document, html []byte, headers map[string]string) Technologies {
	tech := emptyTechnologies()

	lower := string(bytes.ToLower(html))
	generator, _ := doc.Find("meta[name='generator']").Attr("content")
	generator = strings.ToLower(strings.TrimSpace(generator))

	found := map[string]map[string]bool{
		"cms":        {},
		"frameworks": {},
		"analytics":  {},
		"libraries":  {},
	}

	for _, sig := range signatures {
		matched := sig.generator != "" && strings.HasPrefix(generator, sig.generator)
		for _, marker := range sig.markers {
			if matched {
				break
			}
			matched = strings.Contains(lower, marker)
		}
		if matched {
			found[sig.category][sig.name] = true
		}
	}

	if powered := strings.ToLower(headers["X-Powered-By"]); powered != "" {
		if strings.Contains(powered, "next.js") {
			found["frameworks"]["Next.js"] = true
			found["frameworks"]["React"] = true
		}
		if strings.Contains(powered, "wp engine") {
			found["cms"]["WordPress"] = true
		}
	}
	if headers["X-Shopify-Stage"] != "" || headers["X-Shopid"] != "" {
		found["cms"]["Shopify"] = true
	}

	tech.CMS = sortedKeys(found["cms"])
	tech.Frameworks = sortedKeys(found["frameworks"])
	tech.Analytics = sortedKeys(found["analytics"])
	tech.Libraries = sortedKeys(found["libraries"])
	tech.Server = headers["Server"]

	return tech
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
