package compare

import (
	"encoding/json"
	"time"

	"github.com/seo-optimizer/competitive-insights/analyzer"
	"github.com/seo-optimizer/competitive-insights/sources"
)

// Winner names the side that leads a dimension. The empty value means no
// winner could be decided and marshals to null.
type Winner string

const (
	WinnerNone       Winner = ""
	WinnerYours      Winner = "yours"
	WinnerCompetitor Winner = "competitor"
	WinnerTie        Winner = "tie"
)

func (w Winner) MarshalJSON() ([]byte, error) {
	if w == WinnerNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(w))
}

// Report is the full answer to a comparison request
type Report struct {
	YourSite       *analyzer.SiteAnalysis `json:"yourSite"`
	CompetitorSite *analyzer.SiteAnalysis `json:"competitorSite"`
	Comparison     Comparison             `json:"comparison"`
	GeneratedAt    time.Time              `json:"generatedAt"`
}

// Comparison is the per-dimension diff of two site analyses
type Comparison struct {
	Performance    PerformanceComparison    `json:"performance"`
	SEO            SEOComparison            `json:"seo"`
	Content        ContentComparison        `json:"content"`
	Technology     TechnologyComparison     `json:"technology"`
	Security       SecurityComparison       `json:"security"`
	Traffic        TrafficComparison        `json:"traffic"`
	Backlinks      BacklinksComparison      `json:"backlinks"`
	ContentUpdates ContentUpdatesComparison `json:"contentUpdates"`
	Summary        Summary                  `json:"summary"`
}

type PerformanceSide struct {
	Lighthouse       float64 `json:"lighthouse"`
	PageSpeedDesktop float64 `json:"pageSpeedDesktop"`
	PageSpeedMobile  float64 `json:"pageSpeedMobile"`
	Average          float64 `json:"average"`
}

type PerformanceComparison struct {
	Your       PerformanceSide `json:"your"`
	Competitor PerformanceSide `json:"competitor"`
	Winner     Winner          `json:"winner"`
	Gap        float64         `json:"gap"`
}

// SEOSignals are the on-page facts the SEO score is computed from
type SEOSignals struct {
	HasTitle            bool `json:"hasTitle"`
	HasDescription      bool `json:"hasDescription"`
	HasCanonical        bool `json:"hasCanonical"`
	TitleLength         int  `json:"titleLength"`
	DescriptionLength   int  `json:"descriptionLength"`
	H1Count             int  `json:"h1Count"`
	H2Count             int  `json:"h2Count"`
	H3Count             int  `json:"h3Count"`
	HasOpenGraph        bool `json:"hasOpenGraph"`
	HasTwitterCard      bool `json:"hasTwitterCard"`
	StructuredDataCount int  `json:"structuredDataCount"`
}

type SEOSide struct {
	SEOSignals
	Score int `json:"score"`
}

type SEOComparison struct {
	Your       SEOSide `json:"your"`
	Competitor SEOSide `json:"competitor"`
	Winner     Winner  `json:"winner"`
	Gap        float64 `json:"gap"`
}

type ContentSide struct {
	WordCount     int `json:"wordCount"`
	TotalImages   int `json:"totalImages"`
	ImagesWithAlt int `json:"imagesWithAlt"`
	InternalLinks int `json:"internalLinks"`
	ExternalLinks int `json:"externalLinks"`
}

type ContentComparison struct {
	Your       ContentSide `json:"your"`
	Competitor ContentSide `json:"competitor"`
	Winner     Winner      `json:"winner"`
	Gap        float64     `json:"gap"`
}

// TechnologyComparison is descriptive only
type TechnologyComparison struct {
	Your       sources.Technologies `json:"your"`
	Competitor sources.Technologies `json:"competitor"`
}

type SecuritySide struct {
	HTTPS                bool   `json:"https"`
	HTTPSRedirect        bool   `json:"httpsRedirect"`
	CDN                  string `json:"cdn"`
	HasCDN               bool   `json:"hasCdn"`
	RobotsTxt            bool   `json:"robotsTxt"`
	HasSitemap           bool   `json:"hasSitemap"`
	SecurityHeadersScore int    `json:"securityHeadersScore"`
}

// SecurityComparison is descriptive only
type SecurityComparison struct {
	Your       SecuritySide `json:"your"`
	Competitor SecuritySide `json:"competitor"`
}

type TrafficSide struct {
	Source           string  `json:"source"`
	MonthlyVisits    float64 `json:"monthlyVisits"`
	BounceRate       float64 `json:"bounceRate"`
	PagesPerVisit    float64 `json:"pagesPerVisit"`
	AvgVisitDuration float64 `json:"avgVisitDuration"`
}

type TrafficComparison struct {
	Available        bool         `json:"available"`
	Your             *TrafficSide `json:"your"`
	Competitor       *TrafficSide `json:"competitor"`
	Winner           Winner       `json:"winner"`
	Gap              float64      `json:"gap"`
	EngagementWinner Winner       `json:"engagementWinner"`
	Recommendations  []string     `json:"recommendations"`
}

type BacklinksSide struct {
	TotalBacklinks   int64 `json:"totalBacklinks"`
	ReferringDomains int64 `json:"referringDomains"`
	Rank             int64 `json:"rank"`
}

type BacklinksComparison struct {
	Available  bool           `json:"available"`
	Your       *BacklinksSide `json:"your"`
	Competitor *BacklinksSide `json:"competitor"`
	Winner     Winner         `json:"winner"`
	Difference int64          `json:"difference"`
}

// Activity leaders for the content-updates dimension
const (
	MoreActiveUser       = "user"
	MoreActiveCompetitor = "competitor"
	MoreActiveEqual      = "equal"
)

type ContentUpdatesSide struct {
	HasRSS               bool       `json:"hasRss"`
	HasSitemap           bool       `json:"hasSitemap"`
	UpdateFrequency      string     `json:"updateFrequency"`
	LastContentDate      *time.Time `json:"lastContentDate"`
	AveragePostsPerMonth float64    `json:"averagePostsPerMonth"`
	IsActive             bool       `json:"isActive"`
	RecentActivityCount  int        `json:"recentActivityCount"`
	ContentVelocity      string     `json:"contentVelocity"`
}

// ContentGap is always competitor minus yours
type ContentGap struct {
	PostsPerMonthDiff  float64 `json:"postsPerMonthDiff"`
	RecentActivityDiff int     `json:"recentActivityDiff"`
	VelocityGap        int     `json:"velocityGap"`
}

type ContentUpdatesComparison struct {
	Available       bool                `json:"available"`
	Your            *ContentUpdatesSide `json:"your"`
	Competitor      *ContentUpdatesSide `json:"competitor"`
	MoreActive      string              `json:"moreActive,omitempty"`
	ContentGap      ContentGap          `json:"contentGap"`
	Recommendations []string            `json:"recommendations"`
}

// Summary is the cross-dimension verdict. Lists are never nil.
type Summary struct {
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Opportunities   []string `json:"opportunities"`
	Recommendations []string `json:"recommendations"`
}
